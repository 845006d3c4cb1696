package api

import "standalone/internal/journal"

// StatusResponse 当前状态
type StatusResponse struct {
	State  string `json:"state"`
	Status string `json:"status"`
}

// HistoryResponse 状态变更历史
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Message string `json:"message"`
}
