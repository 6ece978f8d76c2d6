// Package mock implements the in-tree reference connector (§4.1.1): a
// deterministic, in-memory document set used to exercise the framework
// and query pipeline (S1-S6) without a real network dependency.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/model"
)

// seedDocument is one fixed document this connector can emit.
type seedDocument struct {
	externalID string
	title      string
	content    string
	author     string
	timestamp  time.Time
	comment    *seedDocument // optional single child, to exercise parent/child grouping
}

var seedDocuments = []seedDocument{
	{
		externalID: "1",
		title:      "Hello World",
		content:    "The quick brown fox jumps over the lazy dog.",
		author:     "Ada Lovelace",
		timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	},
	{
		externalID: "2",
		title:      "Runbook: rotating the staging database password",
		content: "To rotate the staging database password, first notify the on-call channel, then generate a " +
			"new credential in the secrets manager, update the connection string in the staging config, and " +
			"finally restart the affected services one at a time to avoid a full outage.",
		author:    "Grace Hopper",
		timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		comment: &seedDocument{
			externalID: "2-c1",
			title:      "Re: Runbook: rotating the staging database password",
			content:    "Worth noting the rotation should happen outside business hours.",
			author:     "Margaret Hamilton",
			timestamp:  time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
		},
	},
}

// Connector is the mock data source.
type Connector struct{}

// New constructs the mock connector class.
func New() *Connector { return &Connector{} }

func (c *Connector) Name() string        { return "mock" }
func (c *Connector) DisplayName() string { return "Mock Source" }

func (c *Connector) DescribeConfigSchema() []model.ConfigField {
	return []model.ConfigField{
		{Name: "token", InputKind: model.InputPassword, Label: "API Token", Placeholder: "any non-empty value"},
	}
}

// ValidateConfig exercises the fake upstream: any non-empty token is
// accepted, an empty one is rejected as an InvalidConfigError.
func (c *Connector) ValidateConfig(_ context.Context, config map[string]string) error {
	if config["token"] == "" {
		return model.NewInvalidConfig("token must not be empty")
	}
	return nil
}

func (c *Connector) ListLocations(_ context.Context, _ map[string]string) ([]model.Location, error) {
	return nil, nil
}

func (c *Connector) HasPrerequisites() bool { return false }

func (c *Connector) RateLimit() float64 { return 0 }

// Dispatch implements the one method this connector supports:
// feed_new_documents, which emits every seed document whose timestamp is
// at or after last_indexed_at (incremental semantics, §4.1).
func (c *Connector) Dispatch(_ context.Context, rt *connector.Runtime, methodName string, _ map[string]string) error {
	switch methodName {
	case "feed_new_documents":
		for _, seed := range seedDocuments {
			if seed.timestamp.Before(rt.LastIndexedAt) {
				continue
			}
			rt.Emit(toDocument(seed, rt.SourceID, nil))
		}
		return nil
	default:
		return fmt.Errorf("mock: unknown method %q", methodName)
	}
}

func toDocument(seed seedDocument, sourceID int64, parentExternalID *string) *model.Document {
	doc := &model.Document{
		SourceID:   sourceID,
		ExternalID: seed.externalID,
		Kind:       model.KindDocument,
		Title:      seed.title,
		Author:     seed.author,
		Content:    seed.content,
		Timestamp:  seed.timestamp,
		URL:        "mock://" + seed.externalID,
	}
	if seed.comment != nil {
		child := toDocument(*seed.comment, sourceID, &seed.externalID)
		child.Kind = model.KindComment
		doc.Children = append(doc.Children, child)
	}
	return doc
}
