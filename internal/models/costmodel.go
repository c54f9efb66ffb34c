package models

import "time"

// CostModel is one version in the append-only cost model history of a
// deployment. The active version for a deployment is the row with the
// highest id; the "global" sentinel deployment supplies defaults.
type CostModel struct {
	ID         int64     `json:"id"`
	Deployment string    `json:"deployment"`
	Model      *string   `json:"model,omitempty"`
	Variables  *string   `json:"variables,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CostModelNotification is the payload delivered on the
// cost_models_update_notification channel.
type CostModelNotification struct {
	Op         string  `json:"tg_op"`
	Deployment string  `json:"deployment"`
	Model      *string `json:"model"`
}
