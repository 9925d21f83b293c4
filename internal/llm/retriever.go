package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	bartypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

// KnowledgeBaseRetriever serves the deep search layer from a managed
// Bedrock knowledge base.
type KnowledgeBaseRetriever struct {
	client *bedrockagentruntime.Client
	kbID   string
	logger logger.Logger
}

func NewKnowledgeBaseRetriever(awsCfg aws.Config, kbID string, log logger.Logger) *KnowledgeBaseRetriever {
	return &KnowledgeBaseRetriever{
		client: bedrockagentruntime.NewFromConfig(awsCfg),
		kbID:   kbID,
		logger: log,
	}
}

func (r *KnowledgeBaseRetriever) Retrieve(ctx context.Context, query string, limit int) ([]DeepHit, error) {
	if limit <= 0 {
		limit = 5
	}

	out, err := r.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(r.kbID),
		RetrievalQuery:  &bartypes.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &bartypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &bartypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(limit)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve from knowledge base %s: %w", r.kbID, err)
	}

	hits := make([]DeepHit, 0, len(out.RetrievalResults))
	for _, res := range out.RetrievalResults {
		hit := DeepHit{}
		if res.Content != nil && res.Content.Text != nil {
			hit.Text = *res.Content.Text
		}
		if res.Score != nil {
			hit.Score = *res.Score
		}
		if res.Location != nil && res.Location.S3Location != nil && res.Location.S3Location.Uri != nil {
			hit.Source = *res.Location.S3Location.Uri
		}
		if hit.Text == "" {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
