package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	"github.com/JakeFAU/storefront-coordinator/internal/progress"
)

type stateRequest struct {
	StoreID  string `json:"storeId"`
	RunID    string `json:"runId"`
	State    string `json:"state"`
	Lock     bool   `json:"lock"`
	Expected int    `json:"expected"`
	Progress int    `json:"progress"`
}

func (s *Server) setState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	status, err := coord.ParseStoreStatus(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	storeID := coord.NormalizeStoreID(req.StoreID)
	runID := s.resolveRun(req.RunID)

	got := s.states.Set(storeID, runID, status, req.Lock, req.Expected, req.Progress)
	s.emit(progress.Event{
		Stage: progress.StageStateSet, RunID: runID, StoreID: storeID,
		Note: string(status),
	})
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("storeId")
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	storeID = coord.NormalizeStoreID(storeID)
	runID := s.resolveRun(r.URL.Query().Get("runId"))

	// Poll reconciles stuck and timed-out visits as a side effect.
	writeJSON(w, http.StatusOK, s.states.Poll(storeID, runID))
}

type progressRequest struct {
	StoreID string `json:"storeId"`
	RunID   string `json:"runId"`
	Inc     *int   `json:"inc"`
}

func (s *Server) postProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	inc := 1
	if req.Inc != nil {
		inc = *req.Inc
	}
	if inc < 0 {
		writeError(w, http.StatusBadRequest, "inc must be >= 0")
		return
	}
	storeID := coord.NormalizeStoreID(req.StoreID)
	runID := s.resolveRun(req.RunID)

	got := s.states.IncrementProgress(storeID, runID, inc)
	s.emit(progress.Event{
		Stage: progress.StageProgress, RunID: runID, StoreID: storeID, Count: inc,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "progress": got.Progress})
}

type statusResponse struct {
	Total          int     `json:"total"`
	Target         int     `json:"target"`
	ShouldStop     bool    `json:"shouldStop"`
	SelectedStores int     `json:"selectedStores"`
	Progress       float64 `json:"progress"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.quota.Status()
	resp := statusResponse{
		Total:          snap.Total,
		Target:         snap.Target,
		ShouldStop:     snap.ShouldStop,
		SelectedStores: s.selected.Count(""),
	}
	if snap.Target > 0 {
		resp.Progress = float64(snap.Total) / float64(snap.Target) * 100
	}
	writeJSON(w, http.StatusOK, resp)
}

type selectRequest struct {
	RunID  string            `json:"runId"`
	Stores []coord.Candidate `json:"stores"`
}

type selectResponse struct {
	RunID          string            `json:"runId"`
	Selected       []coord.Candidate `json:"selected"`
	TargetProducts int               `json:"targetProducts"`
}

func (s *Server) selectStores(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Stores) == 0 {
		writeError(w, http.StatusBadRequest, "stores required")
		return
	}
	for _, c := range req.Stores {
		if c.StoreID == "" {
			writeError(w, http.StatusBadRequest, "store id required for every candidate")
			return
		}
	}
	runID := req.RunID
	if runID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate run id failed")
			return
		}
		runID = id
	}

	chosen := s.selected.Select(runID, req.Stores, s.cfg.Run.StoreSampleSize)
	// A fresh batch restarts the quota; any prior selection for this run is
	// discarded (last call wins).
	s.quota.Reset(s.cfg.Run.TargetProducts)
	s.emit(progress.Event{
		Stage: progress.StageRunSelect, RunID: runID, Count: len(chosen),
	})
	s.logger.Info("stores selected",
		zap.String("run_id", runID),
		zap.Int("candidates", len(req.Stores)),
		zap.Int("selected", len(chosen)),
		zap.Int("target_products", s.cfg.Run.TargetProducts),
	)
	writeJSON(w, http.StatusOK, selectResponse{
		RunID:          runID,
		Selected:       chosen,
		TargetProducts: s.cfg.Run.TargetProducts,
	})
}

type visitRequest struct {
	StoreID      string `json:"storeId"`
	RunID        string `json:"runId"`
	ProductCount int    `json:"productCount"`
}

type visitResponse struct {
	Skip            bool `json:"skip,omitempty"`
	Stop            bool `json:"stop,omitempty"`
	Success         bool `json:"success,omitempty"`
	CurrentProducts int  `json:"currentProducts"`
	TargetProducts  int  `json:"targetProducts"`
}

// visitDecision is a pure decision: no state is mutated beyond the reads.
func (s *Server) visitDecision(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	snap := s.quota.Status()
	resp := visitResponse{CurrentProducts: snap.Total, TargetProducts: snap.Target}
	switch {
	case !s.selected.Contains(req.RunID, req.StoreID):
		resp.Skip = true
	case snap.ShouldStop:
		resp.Stop = true
	default:
		resp.Success = true
	}
	writeJSON(w, http.StatusOK, resp)
}

type productDataRequest struct {
	StoreID  string          `json:"storeId"`
	RunID    string          `json:"runId"`
	Products []coord.Product `json:"products"`
}

type productDataResponse struct {
	Skip           bool `json:"skip,omitempty"`
	Stop           bool `json:"stop,omitempty"`
	Success        bool `json:"success,omitempty"`
	Accepted       int  `json:"accepted"`
	TotalProducts  int  `json:"totalProducts"`
	TargetProducts int  `json:"targetProducts"`
	ShouldStop     bool `json:"shouldStop"`
}

func (s *Server) productData(w http.ResponseWriter, r *http.Request) {
	var req productDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	if len(req.Products) == 0 {
		writeError(w, http.StatusBadRequest, "products required")
		return
	}
	res := s.relay.IngestProducts(r.Context(), req.RunID, req.StoreID, req.Products)
	if res.Skip {
		snap := s.quota.Status()
		writeJSON(w, http.StatusOK, productDataResponse{
			Skip:           true,
			TotalProducts:  snap.Total,
			TargetProducts: snap.Target,
			ShouldStop:     snap.ShouldStop,
		})
		return
	}
	writeJSON(w, http.StatusOK, productDataResponse{
		Stop:           res.Stop,
		Success:        !res.Stop,
		Accepted:       res.Accepted,
		TotalProducts:  res.Total,
		TargetProducts: res.Target,
		ShouldStop:     res.ShouldStop,
	})
}

type imageRequest struct {
	StoreID     string `json:"storeId"`
	RunID       string `json:"runId"`
	ProductID   string `json:"productId"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

func (s *Server) productImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "storeId and productId required")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data required")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	url, skip, err := s.relay.IngestImage(r.Context(), req.RunID, req.StoreID, req.ProductID, contentType, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "image ingestion failed")
		return
	}
	if skip {
		writeJSON(w, http.StatusOK, map[string]any{"skip": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

type nameRequest struct {
	StoreID   string `json:"storeId"`
	RunID     string `json:"runId"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
}

func (s *Server) productName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" || req.ProductID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "storeId, productId and name required")
		return
	}
	skip, err := s.relay.IngestName(r.Context(), req.RunID, req.StoreID, req.ProductID, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "name ingestion failed")
		return
	}
	if skip {
		writeJSON(w, http.StatusOK, map[string]any{"skip": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type reviewsRequest struct {
	StoreID string         `json:"storeId"`
	RunID   string         `json:"runId"`
	Reviews []coord.Review `json:"reviews"`
}

func (s *Server) productReviews(w http.ResponseWriter, r *http.Request) {
	var req reviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	if len(req.Reviews) == 0 {
		writeError(w, http.StatusBadRequest, "reviews required")
		return
	}
	skip, err := s.relay.IngestReviews(r.Context(), req.RunID, req.StoreID, req.Reviews)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "review ingestion failed")
		return
	}
	if skip {
		writeJSON(w, http.StatusOK, map[string]any{"skip": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type pairingRequest struct {
	StoreID  string          `json:"storeId"`
	RunID    string          `json:"runId"`
	Pairings []coord.Pairing `json:"pairings"`
}

func (s *Server) taobaoPairing(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	if len(req.Pairings) == 0 {
		writeError(w, http.StatusBadRequest, "pairings required")
		return
	}
	skip, err := s.relay.IngestPairings(r.Context(), req.RunID, req.StoreID, req.Pairings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pairing ingestion failed")
		return
	}
	if skip {
		writeJSON(w, http.StatusOK, map[string]any{"skip": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type gongguRequest struct {
	StoreID   string `json:"storeId"`
	ProductID string `json:"productId"`
}

func (s *Server) gongguCheck(w http.ResponseWriter, r *http.Request) {
	var req gongguRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "storeId and productId required")
		return
	}
	dup, err := s.relay.CheckDuplicate(r.Context(), req.StoreID, req.ProductID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "duplicate check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": dup})
}

type allProductsRequest struct {
	StoreID  string          `json:"storeId"`
	RunID    string          `json:"runId"`
	Products []coord.Product `json:"products"`
}

func (s *Server) allProducts(w http.ResponseWriter, r *http.Request) {
	var req allProductsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId required")
		return
	}
	skip, err := s.relay.ArchiveListing(r.Context(), req.RunID, req.StoreID, req.Products)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing archive failed")
		return
	}
	if skip {
		writeJSON(w, http.StatusOK, map[string]any{"skip": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type workerLogRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *Server) workerLog(w http.ResponseWriter, r *http.Request) {
	var req workerLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	logFn := s.logger.Info
	switch req.Level {
	case "debug":
		logFn = s.logger.Debug
	case "warn":
		logFn = s.logger.Warn
	case "error":
		logFn = s.logger.Error
	}
	logFn("worker log", zap.String("message", req.Message))
	s.emit(progress.Event{Stage: progress.StageWorkerLog, Note: req.Message})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) dropRun(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "runId required")
		return
	}
	dropped := s.states.DropRun(runID)
	s.selected.DropRun(runID)
	s.logger.Info("run evicted",
		zap.String("run_id", runID),
		zap.Int("dropped_states", dropped),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "droppedStates": dropped})
}

func (s *Server) emit(evt progress.Event) {
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}
