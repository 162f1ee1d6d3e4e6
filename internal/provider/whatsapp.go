package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

type whatsappTemplateLanguage struct {
	Code string `json:"code"`
}

type whatsappTemplate struct {
	Name       string                     `json:"name"`
	Language   whatsappTemplateLanguage   `json:"language"`
	Components []domain.TemplateComponent `json:"components"`
}

type whatsappSendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         whatsappTemplate `json:"template"`
}

type whatsappSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// WhatsAppClient sends template messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	client  *resty.Client
	baseURL string
	phoneID string
	token   string
}

func NewWhatsAppClient(baseURL, phoneID, token string) (*WhatsAppClient, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewWhatsAppClientWithClient(baseURL, phoneID, token, client)
}

func NewWhatsAppClientWithClient(baseURL, phoneID, token string, client *resty.Client) (*WhatsAppClient, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("channel base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid channel base url: %w", err)
	}
	if strings.TrimSpace(phoneID) == "" {
		return nil, fmt.Errorf("channel phone id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("channel token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &WhatsAppClient{
		client:  client,
		baseURL: trimmedBase,
		phoneID: strings.TrimSpace(phoneID),
		token:   strings.TrimSpace(token),
	}, nil
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, req SendRequest) (*SendResult, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("channel client is not initialized")
	}
	if strings.TrimSpace(req.To) == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		return nil, fmt.Errorf("%w: template name is required", domain.ErrValidation)
	}

	components := req.Components
	if components == nil {
		components = []domain.TemplateComponent{}
	}

	body := whatsappSendRequest{
		MessagingProduct: "whatsapp",
		To:               req.To,
		Type:             "template",
		Template: whatsappTemplate{
			Name:       req.TemplateName,
			Language:   whatsappTemplateLanguage{Code: req.LanguageCode},
			Components: components,
		},
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.token).
		SetBody(body).
		Post(fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID))
	if err != nil {
		kind := domain.ErrorKindNetworkTimeout
		if errors.Is(err, context.Canceled) {
			kind = domain.ErrorKindUnknown
		}
		return nil, &ProviderError{
			Kind:      kind,
			Message:   "channel request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Kind:      domain.ErrorKindUnknown,
			Message:   "channel returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ProviderMessageID: providerMessageID(response.Body()),
			StatusCode:        statusCode,
			Body:              responseBody,
		}, nil
	}

	return nil, &ProviderError{
		Kind:       classifyHTTPStatus(statusCode),
		StatusCode: statusCode,
		Message:    channelErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func classifyHTTPStatus(statusCode int) domain.ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorKindChannelThrottled
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return domain.ErrorKindChannelRejected
	case statusCode >= http.StatusInternalServerError:
		return domain.ErrorKindNetworkTimeout
	}
	return domain.ErrorKindUnknown
}

func channelErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("channel returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(body []byte) string {
	var parsed whatsappSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Messages) == 0 {
		return ""
	}
	return strings.TrimSpace(parsed.Messages[0].ID)
}
