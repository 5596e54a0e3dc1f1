// Package validate decides whether a candidate's content publishes the
// target facts: a local keyword gate first, then the oracle.
package validate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/oracle"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
)

// Gate is the two-stage validator.
type Gate struct {
	oracle    oracle.Oracle
	kw        *score.Keywords
	prompt    string
	maxTokens int
	pdf       process.PDFLimits
	now       func() time.Time
	log       *logrus.Entry
}

// NewGate creates a gate using the validate prompt and token bound from cfg.
func NewGate(o oracle.Oracle, kw *score.Keywords, cfg config.OracleConfig, log *logrus.Entry) *Gate {
	return &Gate{
		oracle:    o,
		kw:        kw,
		prompt:    cfg.ValidatePrompt,
		maxTokens: cfg.MaxValidateTokens,
		pdf:       PDFLimits(cfg),
		now:       time.Now,
		log:       log.WithField("component", "validate"),
	}
}

// Local reports whether text passes the keyword gate.
func (g *Gate) Local(text string) bool {
	return g.kw.LocalGate(text)
}

// ValidateText rejects locally when the gate fails, without calling the oracle.
// Otherwise the token-bounded text is judged by the oracle. An oracle fault
// yields an uncertain verdict and the error.
func (g *Gate) ValidateText(ctx context.Context, text string) (oracle.VerdictResult, error) {
	if !g.Local(text) {
		metrics.LocalGateRejects.Inc()
		return oracle.VerdictResult{Verdict: models.VerdictInvalid, Reason: "local gate: no fee signal"}, nil
	}

	bounded := process.BoundTokens(text, g.maxTokens)
	raw, err := g.oracle.GenerateText(ctx, oracle.RenderPrompt(g.prompt, g.now())+"\n\nCONTENT:\n"+bounded)
	if err != nil {
		return faultVerdict(err), err
	}
	return oracle.ParseVerdict(raw), nil
}

// ValidateBytes sends an asset straight to the oracle.
func (g *Gate) ValidateBytes(ctx context.Context, data []byte, mime string) (oracle.VerdictResult, error) {
	raw, err := g.oracle.GenerateWithBytes(ctx, oracle.RenderPrompt(g.prompt, g.now()), data, mime)
	if err != nil {
		return faultVerdict(err), err
	}
	return oracle.ParseVerdict(raw), nil
}

// ValidateDocument validates a PDF. Text that passes the local gate is sent
// as text; scanned or unreadable PDFs go to the oracle as bytes.
func (g *Gate) ValidateDocument(ctx context.Context, data []byte) (oracle.VerdictResult, error) {
	text, err := process.PDFText(ctx, data, g.pdf)
	if err == nil && g.Local(text) {
		return g.ValidateText(ctx, text)
	}
	if err != nil {
		g.log.Debugf("PDF text extraction failed, sending bytes: %v", err)
	}
	return g.ValidateBytes(ctx, data, "application/pdf")
}

// PDFLimits returns the PDF reading bounds from cfg.
func PDFLimits(cfg config.OracleConfig) process.PDFLimits {
	return process.PDFLimits{MaxPages: cfg.MaxPDFPages, MaxChars: cfg.MaxPDFChars}
}

func faultVerdict(err error) oracle.VerdictResult {
	return oracle.VerdictResult{Verdict: models.VerdictUncertain, Reason: err.Error()}
}
