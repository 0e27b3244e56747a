package interfaces

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/tracing"
	"fraudguard/internal/service/fraud/application"
	"fraudguard/internal/service/fraud/domain"
)

const maxBodyBytes = 64 << 10

// FraudService 是 HTTP 层用到的应用服务用例。
type FraudService interface {
	CheckCheckout(ctx context.Context, req *application.CheckoutRequest) (*application.CheckoutDecision, error)
	NormalizePhone(raw string) (*application.PhoneResponse, error)
	AddBlock(ctx context.Context, req *application.BlockRequest) (*domain.BlockEntry, error)
	RemoveBlock(ctx context.Context, t domain.BlockType, raw string) error
	ListBlocks(ctx context.Context, t domain.BlockType) ([]domain.BlockEntry, error)
	AddAllow(ctx context.Context, raw string) (string, error)
	RemoveAllow(ctx context.Context, raw string) error
	ListAllow(ctx context.Context) ([]string, error)
}

// FraudHandler 封装了风控服务的 HTTP 处理器
type FraudHandler struct {
	service    FraudService
	feed       http.Handler
	gatherer   prometheus.Gatherer
	adminToken string
}

// NewFraudHandler 创建处理器。feed 为 nil 时不注册实时推送；adminToken 为空时管理接口不鉴权。
func NewFraudHandler(service FraudService, feed http.Handler, gatherer prometheus.Gatherer, adminToken string) *FraudHandler {
	return &FraudHandler{service: service, feed: feed, gatherer: gatherer, adminToken: adminToken}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *FraudHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/check", withTrace(http.HandlerFunc(h.handleCheck)))
	mux.Handle("/phone/normalize", withTrace(http.HandlerFunc(h.handleNormalize)))
	mux.Handle("/blocklist", withTrace(h.admin(h.handleBlockList)))
	mux.Handle("/allowlist", withTrace(h.admin(h.handleAllowList)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	if h.feed != nil {
		mux.Handle("/ws/signals", h.admin(h.feed.ServeHTTP))
	}
}

// withTrace 提取上游的追踪上下文，并把带 trace_id 的 logger 放进 ctx。
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("fraud-detection-service").Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		lc := log.With().Str("path", r.URL.Path)
		if traceID := tracing.GetTraceIDFromContext(ctx); traceID != "" {
			lc = lc.Str("trace_id", traceID)
		}
		l := lc.Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
	})
}

func (h *FraudHandler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" {
			token := r.Header.Get("X-Admin-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (h *FraudHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req application.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.CheckCheckout(r.Context(), &req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FraudHandler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	resp, err := h.service.NormalizePhone(r.URL.Query().Get("phone"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FraudHandler) handleBlockList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		t := domain.BlockType(r.URL.Query().Get("type"))
		entries, err := h.service.ListBlocks(ctx, t)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodPost:
		var req application.BlockRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err := h.service.AddBlock(ctx, &req)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	case http.MethodDelete:
		q := r.URL.Query()
		if err := h.service.RemoveBlock(ctx, domain.BlockType(q.Get("type")), q.Get("value")); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

type allowRequest struct {
	Value string `json:"value"`
}

func (h *FraudHandler) handleAllowList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		values, err := h.service.ListAllow(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	case http.MethodPost:
		var req allowRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		value, err := h.service.AddAllow(ctx, req.Value)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, allowRequest{Value: value})
	case http.MethodDelete:
		if err := h.service.RemoveAllow(ctx, r.URL.Query().Get("value")); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPhone):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidBlockEntry):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
