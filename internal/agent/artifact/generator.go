// Package artifact turns extracted topic data into renderable chart
// specifications and persists them to object storage. Generation is
// deterministic: identical topic data yields byte-identical specifications,
// so artifacts can be cached and tests can compare output directly.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// BlobStore is the object-storage collaborator. The generator only writes
// references; serving blobs is someone else's job.
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte) error
}

// TimePoint is one sample of a time series.
type TimePoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// CategoryCount is one bar of a categorical comparison.
type CategoryCount struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// TopicData is the declared input shape for chart composition. Whichever
// field is populated decides the chart kind, in fixed order.
type TopicData struct {
	Topic      string
	Series     []TimePoint
	Categories []CategoryCount
	Sentiment  *agent.SentimentDistribution
	Columns    []string
	Rows       [][]string
}

// Spec is the renderable chart specification. Field order is fixed so the
// JSON encoding is stable; id and timestamps live on the Artifact, not here.
type Spec struct {
	Kind   agent.ChartKind `json:"kind"`
	Topic  string          `json:"topic"`
	Title  string          `json:"title"`
	Labels []string        `json:"labels,omitempty"`
	Values []float64       `json:"values,omitempty"`
	Rows   [][]string      `json:"rows,omitempty"`
}

// Generator composes chart specifications and persists them.
type Generator struct {
	blobs BlobStore
}

func NewGenerator(blobs BlobStore) *Generator { return &Generator{blobs: blobs} }

// Compose selects the chart kind from the shape of the data and builds the
// specification. Decision order: time series, categorical comparison,
// sentiment distribution, table.
func Compose(td TopicData) (Spec, error) {
	switch {
	case len(td.Series) >= 2:
		points := make([]TimePoint, len(td.Series))
		copy(points, td.Series)
		sort.SliceStable(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
		spec := Spec{Kind: agent.ChartLine, Topic: td.Topic, Title: td.Topic + " over time"}
		for _, p := range points {
			spec.Labels = append(spec.Labels, p.At.UTC().Format("2006-01-02"))
			spec.Values = append(spec.Values, p.Value)
		}
		return spec, nil

	case len(td.Categories) >= 2:
		cats := make([]CategoryCount, len(td.Categories))
		copy(cats, td.Categories)
		sort.SliceStable(cats, func(i, j int) bool { return cats[i].Label < cats[j].Label })
		spec := Spec{Kind: agent.ChartBar, Topic: td.Topic, Title: td.Topic + " by category"}
		for _, c := range cats {
			spec.Labels = append(spec.Labels, c.Label)
			spec.Values = append(spec.Values, c.Value)
		}
		return spec, nil

	case td.Sentiment != nil && td.Sentiment.Samples > 0:
		return Spec{
			Kind:   agent.ChartPie,
			Topic:  td.Topic,
			Title:  "Sentiment on " + td.Topic,
			Labels: []string{"positive", "negative", "neutral"},
			Values: []float64{td.Sentiment.Positive, td.Sentiment.Negative, td.Sentiment.Neutral},
		}, nil

	case len(td.Rows) > 0:
		rows := make([][]string, len(td.Rows))
		copy(rows, td.Rows)
		return Spec{
			Kind:   agent.ChartTable,
			Topic:  td.Topic,
			Title:  td.Topic,
			Labels: td.Columns,
			Rows:   rows,
		}, nil
	}
	return Spec{}, &agent.ArtifactError{Topic: td.Topic, Err: errors.New("no chartable data")}
}

// Generate composes the specification, persists it, and returns the artifact
// reference. At most one artifact per topic per run is expected; callers
// treat a returned ArtifactError as degradation, not run failure.
func (g *Generator) Generate(ctx context.Context, runID string, td TopicData) (agent.Artifact, error) {
	spec, err := Compose(td)
	if err != nil {
		return agent.Artifact{}, err
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return agent.Artifact{}, &agent.ArtifactError{Topic: td.Topic, Err: err}
	}

	id := uuid.NewString()
	ref := fmt.Sprintf("artifacts/%s.json", id)
	if g.blobs != nil {
		if err := g.blobs.Save(ctx, ref, payload); err != nil {
			return agent.Artifact{}, &agent.ArtifactError{Topic: td.Topic, Err: err}
		}
	}
	return agent.Artifact{
		ID:         id,
		RunID:      runID,
		Topic:      td.Topic,
		Kind:       spec.Kind,
		StorageRef: ref,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
