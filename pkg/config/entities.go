package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// entitiesFile is the on-disk shape of the entity list.
type entitiesFile struct {
	Entities []models.Entity `yaml:"entities"`
}

// LoadEntities reads the entity list YAML and validates every entry.
// A missing name or site URL is fatal: no work starts on a bad list.
func LoadEntities(path string) ([]models.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read entities '%s': %w", utils.ErrFilesystem, path, err)
	}

	var f entitiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse entities: %w", utils.ErrConfigValidation, err)
	}
	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("%w: entities file '%s' has no entities", utils.ErrConfigValidation, path)
	}

	for i := range f.Entities {
		if err := ValidateEntity(&f.Entities[i]); err != nil {
			return nil, fmt.Errorf("entity #%d: %w", i+1, err)
		}
	}
	return f.Entities, nil
}

// ValidateEntity trims fields and checks the site URL is absolute http(s).
// A bare host gets an https:// scheme.
func ValidateEntity(e *models.Entity) error {
	e.Name = strings.TrimSpace(e.Name)
	e.SiteURL = strings.TrimSpace(e.SiteURL)
	e.ID = strings.TrimSpace(e.ID)

	if e.Name == "" {
		return fmt.Errorf("%w: entity needs a name", utils.ErrConfigValidation)
	}
	if e.SiteURL == "" {
		return fmt.Errorf("%w: entity '%s' needs site_url", utils.ErrConfigValidation, e.Name)
	}
	if !strings.Contains(e.SiteURL, "://") {
		e.SiteURL = "https://" + e.SiteURL
	}
	u, err := url.Parse(e.SiteURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: entity '%s' has invalid site_url '%s'", utils.ErrConfigValidation, e.Name, e.SiteURL)
	}
	return nil
}
