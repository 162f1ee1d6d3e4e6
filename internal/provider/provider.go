package provider

import (
	"context"

	"github.com/XlordCodes/pod-c/internal/domain"
)

// SendRequest is one templated message to one recipient.
type SendRequest struct {
	To           string
	TemplateName string
	LanguageCode string
	Components   []domain.TemplateComponent
}

// SendResult stores channel call metadata for persistence and correlation.
// ProviderMessageID is the identifier later delivery receipts are keyed by.
type SendResult struct {
	ProviderMessageID string
	StatusCode        int
	Body              string
}

// ChannelClient is the outbound port to the external messaging channel.
type ChannelClient interface {
	SendTemplate(ctx context.Context, req SendRequest) (*SendResult, error)
}
