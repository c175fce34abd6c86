package utils

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/shutterhub/backend/internal/logging"
)

// Envelope 统一响应结构
type Envelope struct {
	Success bool   `json:"success"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondData 发送成功响应
func RespondData(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondList 发送带数量的列表响应
func RespondList(w http.ResponseWriter, data any, count int) {
	RespondJSON(w, http.StatusOK, Envelope{Success: true, Count: &count, Data: data})
}

// RespondError 发送错误响应，code 为机器可读的错误类别
func RespondError(w http.ResponseWriter, status int, message, code string) {
	RespondJSON(w, status, Envelope{Success: false, Message: message, Error: code})
}

// DecodeJSON 解析请求体
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}
