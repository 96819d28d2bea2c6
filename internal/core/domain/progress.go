package domain

// ProgressEvent is pushed to subscribers while a backup or restore runs.
type ProgressEvent struct {
	BackupID        string `json:"backupId"`
	StepName        string `json:"stepName"`
	StepIndex       int    `json:"stepIndex"`
	TotalSteps      int    `json:"totalSteps"`
	OverallProgress int    `json:"overallProgress"`
	BytesProcessed  int64  `json:"bytesProcessed"`
	TotalBytes      int64  `json:"totalBytes"`
}
