package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synthiacore/synthia/internal/settings"
)

type SettingsHandler struct {
	store  *settings.Store
	logger *slog.Logger
}

func NewSettingsHandler(store *settings.Store, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, logger: logger.With("component", "settings_handler")}
}

func (h *SettingsHandler) GetAll(c *gin.Context) {
	all, err := h.store.GetAll()
	if err != nil {
		h.logger.Error("list settings", "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "settings query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": all})
}

func (h *SettingsHandler) Get(c *gin.Context) {
	key := c.Param("key")
	value, ok, err := h.store.Get(key)
	if err != nil {
		h.logger.Error("get setting", "key", key, "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "settings query failed")
		return
	}
	if !ok {
		respondError(c, http.StatusNotFound, "setting_not_found", "setting not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "key": key, "value": value})
}

type setSettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

func (h *SettingsHandler) Put(c *gin.Context) {
	key := c.Param("key")
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_arguments", err.Error())
		return
	}

	if err := h.store.Set(key, req.Value); err != nil {
		h.logger.Error("set setting", "key", key, "error", err)
		respondError(c, http.StatusInternalServerError, "storage_error", "settings write failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "key": key, "value": req.Value})
}
