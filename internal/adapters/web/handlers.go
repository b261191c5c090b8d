package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"commodity-desk/internal/app"
	"commodity-desk/internal/core"
	"commodity-desk/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	log    logrus.FieldLogger
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string, log logrus.FieldLogger) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Tracing)
	r.Use(CORS(allowedOrigins))
	r.Use(Actor)
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	r.Route("/api/exchange-rates", func(r chi.Router) {
		r.Get("/", h.listExchangeRates)
		r.Post("/", h.addExchangeRate)
		r.Get("/latest", h.latestExchangeRate)
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getProduct)
			r.Put("/", h.updateProduct)
			r.Get("/destinations", h.productDestinations)
			r.Put("/operation-cost", h.saveOperationCost)
			r.Put("/government-cost", h.saveGovernmentCost)
			r.Put("/local-transport", h.saveLocalTransport)
			r.Put("/freight/{destination}", h.saveFreight)
			r.Delete("/freight/{destination}", h.deleteFreight)
			r.Post("/recalculate", h.recalculate)
			r.Post("/destinations/{destination}/calculate", h.calculateDestination)
			r.Get("/calculations", h.calculationHistory)
			r.Get("/calculations/current", h.currentCalculations)
			r.Get("/calculations/export", h.exportCalculations)
			r.Get("/snapshot", h.currentSnapshot)
			r.Delete("/snapshot", h.unlinkSnapshot)
			r.Put("/snapshot/{snapshotID}", h.linkSnapshot)
			r.Get("/snapshot/history", h.snapshotHistory)
			r.Get("/snapshot/history/export", h.exportSnapshotHistory)
		})
	})

	r.Get("/api/calculations/{id}", h.getCalculation)
	r.Post("/api/calculations/{id}/override", h.overrideCalculation)
	r.Get("/api/schemas/calculation-override", h.overrideSchema)

	r.Route("/api/snapshots", func(r chi.Router) {
		r.Get("/", h.listSnapshots)
		r.Post("/", h.createSnapshot)
		r.Get("/recent", h.recentSnapshots)
	})

	r.Get("/api/audit", h.auditLedger)

	h.router = r
	return r
}

// health reports whether the database is reachable.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	if err := h.svc.Ping(r.Context()); err != nil {
		logger.LogError(h.log, "web", "health", "database ping failed", nil, err)
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "unavailable"})
		return
	}
	writeJSON(w, response{Status: "ok"})
}

// ── Exchange rates ────────────────────────────────────────────────────────────

type exchangeRateRequest struct {
	Date string          `json:"date"`
	Rate decimal.Decimal `json:"rate"`
}

func (h *Handler) addExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req exchangeRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input := core.ExchangeRateInput{Rate: req.Rate}
	if req.Date != "" {
		d, err := parseTime(req.Date, false)
		if err != nil {
			writeError(w, r, "date: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		input.Date = d
	}
	res, err := h.svc.AddExchangeRate(r.Context(), input, actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "addExchangeRate", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) listExchangeRates(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	rates, err := h.svc.ListExchangeRates(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "listExchangeRates", err)
		return
	}
	writeJSON(w, rates)
}

func (h *Handler) latestExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.svc.LatestExchangeRate(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "latestExchangeRate", err)
		return
	}
	writeJSON(w, rate)
}

// ── Products and cost components ──────────────────────────────────────────────

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListProducts(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "listProducts", err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var input core.ProductInput
	if !decodeJSON(w, r, &input) {
		return
	}
	res, err := h.svc.CreateProduct(r.Context(), input, actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "createProduct", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "getProduct", err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) productDestinations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dests, err := h.svc.GetProductDestinations(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "productDestinations", err)
		return
	}
	if dests == nil {
		dests = []core.Destination{}
	}
	writeJSON(w, dests)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input core.ProductInput
	if !decodeJSON(w, r, &input) {
		return
	}
	res, err := h.svc.UpdateProduct(r.Context(), id, input, actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "updateProduct", err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) saveOperationCost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input core.OperationCostInput
	if !decodeJSON(w, r, &input) {
		return
	}
	h.writeSummary(w, r, "saveOperationCost")(h.svc.SaveOperationCost(r.Context(), id, input, actorFromContext(r.Context())))
}

func (h *Handler) saveGovernmentCost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input core.GovernmentCostInput
	if !decodeJSON(w, r, &input) {
		return
	}
	h.writeSummary(w, r, "saveGovernmentCost")(h.svc.SaveGovernmentCost(r.Context(), id, input, actorFromContext(r.Context())))
}

func (h *Handler) saveLocalTransport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input core.LocalTransportInput
	if !decodeJSON(w, r, &input) {
		return
	}
	h.writeSummary(w, r, "saveLocalTransport")(h.svc.SaveLocalTransport(r.Context(), id, input, actorFromContext(r.Context())))
}

func (h *Handler) saveFreight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dest, ok := pathDestination(w, r)
	if !ok {
		return
	}
	var input core.FreightInput
	if !decodeJSON(w, r, &input) {
		return
	}
	h.writeSummary(w, r, "saveFreight")(h.svc.SaveFreight(r.Context(), id, dest, input, actorFromContext(r.Context())))
}

func (h *Handler) deleteFreight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dest, ok := pathDestination(w, r)
	if !ok {
		return
	}
	h.writeSummary(w, r, "deleteFreight")(h.svc.DeleteFreight(r.Context(), id, dest, actorFromContext(r.Context())))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	h.writeSummary(w, r, "recalculate")(h.svc.RefreshProduct(r.Context(), id, actorFromContext(r.Context())))
}

// writeSummary returns a sink for (summary, error) pairs from propagating writes.
func (h *Handler) writeSummary(w http.ResponseWriter, r *http.Request, funcName string) func(*core.PropagationSummary, error) {
	return func(sum *core.PropagationSummary, err error) {
		if err != nil {
			h.writeServiceError(w, r, funcName, err)
			return
		}
		writeJSON(w, sum)
	}
}

// ── Calculations ──────────────────────────────────────────────────────────────

func (h *Handler) calculateDestination(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dest, ok := pathDestination(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.CalculateDestination(r.Context(), id, dest, actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "calculateDestination", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rec)
}

func (h *Handler) calculationHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dest, ok := queryDestination(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	records, err := h.svc.CalculationHistory(r.Context(), id, dest, limit)
	if err != nil {
		h.writeServiceError(w, r, "calculationHistory", err)
		return
	}
	if records == nil {
		records = []core.CalculationRecord{}
	}
	writeJSON(w, records)
}

func (h *Handler) currentCalculations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	records, err := h.svc.CurrentCalculations(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "currentCalculations", err)
		return
	}
	if records == nil {
		records = []core.CalculationRecord{}
	}
	writeJSON(w, records)
}

func (h *Handler) exportCalculations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	dest, ok := queryDestination(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCalculationHistory(r.Context(), &buf, id, dest); err != nil {
		h.writeServiceError(w, r, "exportCalculations", err)
		return
	}
	writeXLSX(w, fmt.Sprintf("product-%d-calculations.xlsx", id), buf.Bytes())
}

func (h *Handler) getCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.svc.GetCalculation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "getCalculation", err)
		return
	}
	writeJSON(w, rec)
}

func (h *Handler) overrideCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req app.OverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.svc.OverrideCalculation(r.Context(), id, req, actorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "overrideCalculation", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rec)
}

func (h *Handler) overrideSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_ = json.NewEncoder(w).Encode(app.OverrideRequestSchema())
}

// ── Snapshots ─────────────────────────────────────────────────────────────────

func (h *Handler) currentSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.svc.CurrentSnapshot(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "currentSnapshot", err)
		return
	}
	writeJSON(w, snap)
}

func (h *Handler) linkSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	snapshotID, ok := pathInt(w, r, "snapshotID")
	if !ok {
		return
	}
	h.writeSummary(w, r, "linkSnapshot")(h.svc.LinkSnapshot(r.Context(), id, snapshotID, actorFromContext(r.Context())))
}

func (h *Handler) unlinkSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.UnlinkSnapshot(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "unlinkSnapshot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) snapshotHistory(w http.ResponseWriter, r *http.Request) {
	id, from, to, ok := historyWindow(w, r)
	if !ok {
		return
	}
	archives, err := h.svc.SnapshotHistory(r.Context(), id, from, to)
	if err != nil {
		h.writeServiceError(w, r, "snapshotHistory", err)
		return
	}
	if archives == nil {
		archives = []core.MarketSnapshotArchive{}
	}
	writeJSON(w, archives)
}

func (h *Handler) exportSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	id, from, to, ok := historyWindow(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.svc.ExportSnapshotHistory(r.Context(), &buf, id, from, to); err != nil {
		h.writeServiceError(w, r, "exportSnapshotHistory", err)
		return
	}
	writeXLSX(w, fmt.Sprintf("product-%d-snapshot-history.xlsx", id), buf.Bytes())
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.ListSnapshots(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "listSnapshots", err)
		return
	}
	if snaps == nil {
		snaps = []core.MarketSnapshot{}
	}
	writeJSON(w, snaps)
}

func (h *Handler) recentSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	snaps, err := h.svc.RecentSnapshots(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "recentSnapshots", err)
		return
	}
	if snaps == nil {
		snaps = []core.MarketSnapshot{}
	}
	writeJSON(w, snaps)
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var input core.SnapshotInput
	if !decodeJSON(w, r, &input) {
		return
	}
	snap, err := h.svc.CreateSnapshot(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, "createSnapshot", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, snap)
}

// ── Request helpers ───────────────────────────────────────────────────────────

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, r, fmt.Sprintf("%s must be a positive integer, got %q", name, raw), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func pathDestination(w http.ResponseWriter, r *http.Request) (core.Destination, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "destination"))
	if err != nil {
		writeError(w, r, "invalid destination", "BAD_REQUEST", http.StatusBadRequest)
		return "", false
	}
	dest, err := core.ParseDestination(raw)
	if err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return "", false
	}
	return dest, true
}

// queryDestination reads ?destination=; absent means every destination.
func queryDestination(w http.ResponseWriter, r *http.Request) (core.Destination, bool) {
	raw := r.URL.Query().Get("destination")
	if raw == "" {
		return "", true
	}
	dest, err := core.ParseDestination(raw)
	if err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return "", false
	}
	return dest, true
}

// queryLimit reads ?limit=; absent or zero lets the store apply its default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, r, fmt.Sprintf("limit must be a non-negative integer, got %q", raw), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func historyWindow(w http.ResponseWriter, r *http.Request) (id int, from, to time.Time, ok bool) {
	if id, ok = pathInt(w, r, "id"); !ok {
		return 0, from, to, false
	}
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseTime(v, false); err != nil {
			writeError(w, r, "from: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return 0, from, to, false
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseTime(v, true); err != nil {
			writeError(w, r, "to: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
			return 0, from, to, false
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, r, "to must not be before from", "BAD_REQUEST", http.StatusBadRequest)
		return 0, from, to, false
	}
	return id, from, to, true
}

// parseTime accepts RFC 3339 or a bare date. A bare date used as an upper bound
// covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func writeXLSX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// auditLedger runs the read-only consistency checks. Findings are reported with 200;
// an empty list means the ledger is consistent.
func (h *Handler) auditLedger(w http.ResponseWriter, r *http.Request) {
	findings, err := h.svc.AuditLedger(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "auditLedger", err)
		return
	}
	if findings == nil {
		findings = []core.AuditFinding{}
	}
	writeJSON(w, findings)
}
