package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/config"
	"phone-gateway/internal/tracing"
	"phone-gateway/pkg/logger"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
)

// HTTPProvider talks to the provider's REST API with a bearer API key.
type HTTPProvider struct {
	client *resty.Client
	log    *slog.Logger
}

func NewHTTPProvider(cfg config.ProviderConfig, log *slog.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("telephony: provider base url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("telephony: provider api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(0)

	return &HTTPProvider{client: client, log: logger.Component(log, "telephony")}, nil
}

type providerErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type request struct {
	op         string
	method     string
	path       string
	pathParams map[string]string
	query      map[string]string
	body       any
	result     any
}

func (p *HTTPProvider) do(ctx context.Context, r request) error {
	ctx, span := tracing.StartSpan(ctx, "provider."+r.op,
		attribute.String("http.method", r.method),
		attribute.String("http.route", r.path),
	)
	defer span.End()

	req := p.client.R().SetContext(ctx).SetError(&providerErrorBody{})
	if r.body != nil {
		req.SetBody(r.body)
	}
	if r.result != nil {
		req.SetResult(r.result)
	}
	if len(r.pathParams) > 0 {
		req.SetPathParams(r.pathParams)
	}
	if len(r.query) > 0 {
		req.SetQueryParams(r.query)
	}

	op := "telephony." + r.op
	resp, err := req.Execute(r.method, r.path)
	if err != nil {
		tracing.RecordError(ctx, err)
		p.log.Warn("provider unreachable", "op", r.op, "err", err)
		return apperr.Provider(op, 0, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		cause := fmt.Errorf("%s %s: %s", r.method, r.path, errorMessage(resp))
		tracing.RecordError(ctx, cause)
		p.log.Warn("provider rejected request", "op", r.op, "status", resp.StatusCode())
		return apperr.Provider(op, resp.StatusCode(), cause)
	}
	return nil
}

func errorMessage(resp *resty.Response) string {
	if body, ok := resp.Error().(*providerErrorBody); ok && body != nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return resp.Status()
}

type searchResponse struct {
	Numbers []CandidateNumber `json:"numbers"`
}

func (p *HTTPProvider) SearchNumbers(ctx context.Context, q SearchQuery) ([]CandidateNumber, error) {
	var out searchResponse
	err := p.do(ctx, request{op: "search_numbers", method: http.MethodPost, path: "/phone-numbers/search", body: q, result: &out})
	if err != nil {
		return nil, err
	}
	if out.Numbers == nil {
		return []CandidateNumber{}, nil
	}
	return out.Numbers, nil
}

func (p *HTTPProvider) ProvisionNumber(ctx context.Context, req ProvisionRequest) (ProvisionedNumber, error) {
	var out ProvisionedNumber
	err := p.do(ctx, request{op: "provision_number", method: http.MethodPost, path: "/phone-numbers/provision", body: req, result: &out})
	if err != nil {
		return ProvisionedNumber{}, err
	}
	if out.PhoneNumber == "" {
		out.PhoneNumber = req.PhoneNumber
	}
	return out, nil
}

func (p *HTTPProvider) OriginateCall(ctx context.Context, req OriginateRequest) (Call, error) {
	var out Call
	err := p.do(ctx, request{op: "originate_call", method: http.MethodPost, path: "/calls/initiate", body: req, result: &out})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (p *HTTPProvider) FetchRecording(ctx context.Context, callID string) (Recording, error) {
	var out Recording
	err := p.do(ctx, request{
		op:         "fetch_recording",
		method:     http.MethodGet,
		path:       "/calls/{id}/recording",
		pathParams: map[string]string{"id": callID},
		result:     &out,
	})
	if err != nil {
		return Recording{}, err
	}
	if out.CallID == "" {
		out.CallID = callID
	}
	return out, nil
}

func (p *HTTPProvider) SendSMS(ctx context.Context, req SMSRequest) (SentMessage, error) {
	var out SentMessage
	err := p.do(ctx, request{op: "send_sms", method: http.MethodPost, path: "/sms/send", body: req, result: &out})
	if err != nil {
		return SentMessage{}, err
	}
	if out.Status == "" {
		out.Status = "queued"
	}
	return out, nil
}

func (p *HTTPProvider) UsageSummary(ctx context.Context, start, end time.Time) (UsageSummary, error) {
	query := map[string]string{}
	if !start.IsZero() {
		query["startDate"] = start.Format(time.DateOnly)
	}
	if !end.IsZero() {
		query["endDate"] = end.Format(time.DateOnly)
	}
	var out UsageSummary
	err := p.do(ctx, request{op: "usage_summary", method: http.MethodGet, path: "/usage/summary", query: query, result: &out})
	if err != nil {
		return UsageSummary{}, err
	}
	if out.Totals == nil {
		out.Totals = map[string]UsageLine{}
	}
	return out, nil
}
