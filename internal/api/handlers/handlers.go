// Package handlers implements the HTTP handlers for the bar controller.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/order"
	"github.com/tableon/barctl/internal/recipe"
	"github.com/tableon/barctl/internal/scheduler"
	"github.com/tableon/barctl/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Orders    *order.Manager
	Recipes   *recipe.Store
	Scheduler *scheduler.Scheduler
	Mode      *models.ModeCell
}

// New creates a new Handlers instance.
func New(orders *order.Manager, recipes *recipe.Store, sched *scheduler.Scheduler, mode *models.ModeCell) *Handlers {
	return &Handlers{
		Orders:    orders,
		Recipes:   recipes,
		Scheduler: sched,
		Mode:      mode,
	}
}

// ── Orders ──────────────────────────────────────────────────

type createOrderRequest struct {
	OrderNo  int    `json:"order_no"`
	MenuCode int    `json:"menu_code"`
	MenuName string `json:"menu_name"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MenuCode == 0 {
		respondError(w, http.StatusBadRequest, "menu_code is required")
		return
	}

	o, err := h.Orders.Add(req.OrderNo, req.MenuCode, req.MenuName)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.Orders.Orders()
	if orders == nil {
		orders = []models.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	o, ok := h.Orders.Snapshot(uuid)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if !h.Orders.Cancel(uuid) {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"uuid": uuid, "status": string(models.OrderCancelled)})
}

// ── Recipes ─────────────────────────────────────────────────

func (h *Handlers) ListRecipes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Recipes.All())
}

func (h *Handlers) GetRecipe(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "menuCode"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "menu code must be numeric")
		return
	}
	rec, ok := h.Recipes.Get(code)
	if !ok {
		respondError(w, http.StatusNotFound, "recipe not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ReplaceRecipes(w http.ResponseWriter, r *http.Request) {
	var recipes []models.Recipe
	if err := json.NewDecoder(r.Body).Decode(&recipes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for _, rec := range recipes {
		if rec.MenuCode == 0 {
			respondError(w, http.StatusBadRequest, "every recipe needs a menu_code")
			return
		}
	}
	if err := h.Recipes.SaveAll(recipes); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Int("count", len(recipes)).Msg("recipe set replaced via API")
	respondJSON(w, http.StatusOK, h.Recipes.All())
}

// ── Mode & control ──────────────────────────────────────────

func (h *Handlers) GetMode(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"mode": h.Mode.Get().String()})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (h *Handlers) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var target models.SystemMode
	switch strings.ToUpper(req.Mode) {
	case "AUTO":
		target = models.ModeAuto
	case "MANUAL":
		target = models.ModeManual
	default:
		respondError(w, http.StatusBadRequest, "mode must be AUTO or MANUAL")
		return
	}

	if err := h.Orders.SetMode(r.Context(), target); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"mode": h.Mode.Get().String()})
}

func (h *Handlers) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.Orders.EmergencyStop(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"mode": h.Mode.Get().String()})
}

func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Scheduler.Snapshot())
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
