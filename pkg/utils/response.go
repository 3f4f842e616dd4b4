package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondSuccess 发送 {"status":"success", key: payload}
func RespondSuccess(w http.ResponseWriter, key string, payload interface{}) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		key:      payload,
	})
}

// RespondStatusError 以 200 状态码返回 {"status":"error","message":...}，供轮询类接口使用。
func RespondStatusError(w http.ResponseWriter, message string) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "error",
		"message": message,
	})
}
