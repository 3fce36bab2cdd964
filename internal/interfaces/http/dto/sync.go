package dto

// SyncRequest is the body of a sync start request. Method is optional;
// when empty the configured store backend is used.
type SyncRequest struct {
	Mode   string `json:"mode" binding:"required,oneof=full prices"`
	Method string `json:"method" binding:"omitempty,oneof=rest remote"`
}
