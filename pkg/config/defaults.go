package config

// Default vocabulary: Indonesian university tuition pages.

var defaultTopicKeywords = []string{
	"ukt", "uang kuliah", "uang kuliah tunggal", "biaya kuliah", "biaya pendidikan",
	"biaya studi", "biaya per semester", "biaya per tahun", "spp", "spi", "ipi",
	"uang pangkal", "uang gedung", "dpp", "dana pengembangan", "biaya registrasi",
	"biaya herregistrasi", "tarif", "iuran", "tuition", "fee", "fees",
}

var defaultNoiseKeywords = []string{
	"berita", "news", "event", "agenda", "pengumuman", "artikel", "press",
	"galeri", "gallery", "opini", "blog", "riset", "penelitian",
	"karir", "career", "alumni", "profile", "profil", "sejarah", "history",
	"visi", "misi", "kemahasiswaan", "beasiswa", "scholarship",
	"download", "repository", "perpustakaan", "library",
}

const (
	defaultTopicPattern = `(?i)\b(ukt|spp|spi|ipi|uang[\W_]*pangkal|uang[\W_]*kuliah([\W_]*tunggal)?|` +
		`biaya[\W_]*(kuliah|pendidikan|studi|registrasi|herregistrasi)|` +
		`dpp|dana[\W_]*pengembangan|uang[\W_]*gedung|tuition|fee|fees|tarif|iuran)\b`

	defaultProgramPattern = `(?i)\b(prodi|program\s*studi|jurusan|departemen|fakultas|konsentrasi|peminatan|` +
		`program\s*(sarjana|magister|doktor)|study\s*program|department|faculty)\b`

	defaultLevelPattern = `(?i)\b(s1|s2|s3|d[1-4]|diploma|sarjana|magister|doktor|keprofesian|profesi|` +
		`spesialis|pascasarjana|undergraduate|graduate|master|phd)\b`

	defaultMoneyPattern = `(?i)(rp\.?\s*)?\d{1,3}([.,]\d{3})+|\b\d{6,}\b`
)

var defaultDatePatterns = []string{
	`(?i)\b(\d{1,2}\s*(januari|februari|maret|april|mei|juni|juli|agustus|september|oktober|november|desember|` +
		`jan|feb|mar|apr|jun|jul|agu|sep|okt|nov|des|january|february|march|may|june|july|august|october|december)\s*\d{2,4}|` +
		`\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`,
	`(?is)(\d{1,2}\s*[a-z]+\s*\d{2,4}|\d{4}-\d{2}-\d{2})\s*(?:-|–|—|s/d|s\.d\.|sd|hingga|to|sampai)\s*(\d{1,2}\s*[a-z]+\s*\d{2,4}|\d{4}-\d{2}-\d{2})`,
}

var defaultEntryKeywords = []string{
	"pmb", "ppmb", "admission", "penerimaan", "pendaftaran", "selma",
	"seleksi-masuk", "snbp", "snbt", "mandiri", "jadwal", "biaya", "ukt",
}

var defaultHardReject = []string{
	"alumni", "berita", "news", "artikel", "kontak", "contact", "lokasi", "location",
	"peta-situs", "logo", "visi-misi", "sejarah", "tentang-kami", "syarat-ketentuan",
	"terms-and-conditions", "privacy-policy", "inovasi", "research", "riset", "penelitian",
}

var defaultHardRejectExempt = []string{"jadwal", "timeline"}

var defaultLogoWords = []string{"logo", "favicon", "sprite", "icon", "brand", "avatar"}

var defaultAllowedAssetHosts = []string{
	"drive.google.com", "docs.google.com", "storage.googleapis.com",
	"googleusercontent.com", "cloudfront.net", "amazonaws.com",
	"blob.core.windows.net",
}

var defaultSubdomainGuesses = []string{"pmb", "admission", "penerimaan", "spmb", "selma"}

var defaultGoodFields = []string{"price", "amount", "fee", "cost", "nominal", "start_date", "end_date", "date"}

var defaultNumericFields = []string{"price", "amount", "fee", "cost", "nominal", "min_price", "max_price"}

const defaultValidatePrompt = `You check whether a web page or document from an official university website ` +
	`publishes tuition fees per study program.
Answer valid only if the content states concrete amounts tied to named study programs or education levels.
Today's date is {{today}}.
Return strict JSON: {"is_valid": bool, "reason": string, "evidence_snippet": string (max 200 chars)}.`

const defaultExtractPrompt = `Extract every tuition fee item from the content below.
Return a JSON array of objects with keys: name, slug, description, price, currency, period, level, start_date, end_date.
Use integers for price without separators. Use YYYY-MM-DD for dates. Omit unknown keys.
Today's date is {{today}}.`

// DefaultKeywordsConfig returns the default vocabulary with every default applied.
func DefaultKeywordsConfig() KeywordsConfig {
	var k KeywordsConfig
	k.validate()
	return k
}

// DefaultNarrowConfig returns the narrowing defaults.
func DefaultNarrowConfig() NarrowConfig {
	var n NarrowConfig
	n.validate()
	return n
}
