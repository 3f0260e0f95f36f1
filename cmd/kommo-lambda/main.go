package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/rental-ops/cmd/mainconfig"
	"github.com/wolfman30/rental-ops/internal/app/bootstrap"
	appconfig "github.com/wolfman30/rental-ops/internal/config"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/internal/webhook"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

const webhookPath = "/webhooks/kommo"

type processor interface {
	Process(ctx context.Context, req webhook.Request) (int, webhook.Response)
}

func main() {
	ctx := context.Background()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	var awsCfg *aws.Config
	if mainconfig.AWSEnabled(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			panic(err)
		}
		awsCfg = &loaded
	}

	// Lambda has no scrape endpoint; metrics stay in a private registry.
	rt, err := bootstrap.BuildRuntime(ctx, cfg, awsCfg, prometheus.NewRegistry(), logger)
	if err != nil {
		panic(err)
	}
	if !cfg.KommoEnforceSignature {
		logger.Warn("kommo webhook signature enforcement disabled; invalid signatures are recorded only")
	}

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, rt.Processor, logger, evt)
	})
}

func handle(ctx context.Context, proc processor, logger *logging.Logger, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}

	if path != webhookPath && path != "/" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, webhook.Response{Processed: []webhook.EventResult{}, Error: "invalid body"}, logger), nil
	}

	status, resp := proc.Process(ctx, webhook.Request{
		Body:      body,
		Signature: strings.TrimSpace(headerValue(evt.Headers, kommo.SignatureHeader)),
	})
	return jsonResponse(status, resp, logger), nil
}

func jsonResponse(status int, resp webhook.Response, logger *logging.Logger) events.APIGatewayV2HTTPResponse {
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Error("failed to encode webhook response", "error", err)
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(payload),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
