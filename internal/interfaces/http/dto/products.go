package dto

// ProductCountResponse is the body of a published-item count request.
type ProductCountResponse struct {
	Count int `json:"count"`
}
