package dto

// SweepResponse lists the backups a retention sweep acted on
type SweepResponse struct {
	Deleted []string `json:"deleted"`
	Expired []string `json:"expired"`
	Purged  []string `json:"purged"`
}
