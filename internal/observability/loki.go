package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"pcoservices/server/internal/config"
	"pcoservices/server/internal/logger"
)

type LokiClient struct {
	url            string
	username       string
	apiKey         string
	httpClient     *http.Client
	enabled        bool
	appName        string
	instanceID     string
	instanceRegion string
}

// Loki Push API format
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

var defaultClient atomic.Pointer[LokiClient]

// InitLoki configures the push client. Pushes are dropped when the Loki
// credentials are incomplete.
func InitLoki(cfg config.LokiConfig) {
	c := &LokiClient{
		appName:        cfg.AppEnv,
		instanceID:     cfg.InstanceID,
		instanceRegion: cfg.InstanceRegion,
	}
	if cfg.URL == "" || cfg.User == "" || cfg.APIKey == "" {
		logger.Infow("Loki not configured, push disabled")
		defaultClient.Store(c)
		return
	}

	c.url = cfg.URL + "/loki/api/v1/push"
	c.username = cfg.User
	c.apiKey = cfg.APIKey
	c.httpClient = &http.Client{Timeout: 5 * time.Second}
	c.enabled = true
	defaultClient.Store(c)
	logger.Infow("Loki client initialized", "instance", cfg.InstanceID, "region", cfg.InstanceRegion)
}

func Push(labels map[string]string, data map[string]any) {
	c := defaultClient.Load()
	if c == nil || !c.enabled {
		return
	}

	go c.push(labels, data)
}

func (c *LokiClient) push(labels map[string]string, data map[string]any) {
	if labels == nil {
		labels = make(map[string]string)
	}
	labels["app"] = c.appName
	labels["instance"] = c.instanceID
	labels["region"] = c.instanceRegion

	dataJSON, err := json.Marshal(data)
	if err != nil {
		logger.Warnw("Loki: failed to marshal data", "error", err)
		return
	}

	timestamp := strconv.FormatInt(time.Now().UnixNano(), 10)

	req := lokiPushRequest{
		Streams: []lokiStream{
			{
				Stream: labels,
				Values: [][]string{
					{timestamp, string(dataJSON)},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		logger.Warnw("Loki: failed to marshal request", "error", err)
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		logger.Warnw("Loki: failed to create request", "error", err)
		return
	}

	httpReq.SetBasicAuth(c.username, c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warnw("Loki: failed to send", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnw("Loki: unexpected status code", "status", resp.StatusCode)
	}
}

// LogToolCall records one tool invocation in the log, in Loki and in the
// tool metrics.
func LogToolCall(requestID, subject, module, tool string, durationMs int64, status string, errMsg string) {
	level := "info"
	if status == "error" {
		level = "error"
	}

	log := logger.Named("tools")
	if errMsg != "" {
		log.Warnw("tool call failed",
			"request_id", requestID, "subject", subject, "module", module, "tool", tool,
			"duration_ms", durationMs, "error", errMsg)
	} else {
		log.Infow("tool call",
			"request_id", requestID, "subject", subject, "module", module, "tool", tool,
			"duration_ms", durationMs)
	}
	recordToolMetrics(module, tool, status, durationMs)

	labels := map[string]string{
		"module": module,
		"status": status,
		"level":  level,
	}

	data := map[string]any{
		"request_id":  requestID,
		"subject":     subject,
		"module":      module,
		"tool":        tool,
		"duration_ms": durationMs,
		"status":      status,
	}

	if errMsg != "" {
		data["error"] = errMsg
	}

	Push(labels, data)
}

// LogRequest logs a served HTTP request to Loki.
func LogRequest(method, path string, statusCode int, durationMs int64) {
	labels := map[string]string{
		"type":   "request",
		"method": method,
		"path":   path,
		"level":  "info",
	}

	data := map[string]any{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	Push(labels, data)
}

// LogError logs an error to Loki
func LogError(context string, err error) {
	logger.Errorw(context, "error", err)

	labels := map[string]string{
		"type":  "error",
		"level": "error",
	}

	data := map[string]any{
		"context": context,
		"error":   fmt.Sprintf("%v", err),
	}

	Push(labels, data)
}

// LogSecurityEvent logs an authentication or abuse related event.
func LogSecurityEvent(requestID, subject, event string, details map[string]any) {
	kv := []any{"request_id", requestID, "subject", subject, "event", event}
	for k, v := range details {
		kv = append(kv, k, v)
	}
	logger.Named("security").Warnw("security event", kv...)

	labels := map[string]string{
		"type":  "security",
		"level": "warn",
	}

	data := map[string]any{
		"request_id": requestID,
		"subject":    subject,
		"event":      event,
	}
	for k, v := range details {
		data[k] = v
	}

	Push(labels, data)
}
