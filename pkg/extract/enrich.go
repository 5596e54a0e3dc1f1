package extract

import (
	"strings"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Enrich stamps the entity's identity on an item so items from different
// entities never collide: the name and slug get an entity prefix, the
// description a source note, and provenance fields are filled in.
func Enrich(it models.ExtractedItem, e models.Entity, entityID string) models.ExtractedItem {
	entityName := strings.TrimSpace(e.Name)
	entitySlug := utils.Truncate(utils.Slugify(entityName), 50)
	if entityName == "" {
		entitySlug = entityID
	}

	if entityName != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(entityName)) {
		it.Name = entityName + " - " + it.Name
	}
	if entitySlug != "" && !strings.HasPrefix(it.Slug, entitySlug+"-") {
		it.Slug = entitySlug + "-" + it.Slug
	}

	if entityName != "" {
		fields := make(map[string]any, len(it.Fields)+1)
		for k, v := range it.Fields {
			fields[k] = v
		}
		desc, _ := fields["description"].(string)
		desc = strings.TrimSpace(desc)
		if !strings.Contains(strings.ToLower(desc), strings.ToLower(entityName)) {
			prefix := "Sumber: " + entityName
			if desc != "" {
				desc = prefix + " | " + desc
			} else {
				desc = prefix
			}
		}
		fields["description"] = desc
		it.Fields = fields
	}

	it.EntityID = entityID
	it.ExternalID = e.ID
	return it
}
