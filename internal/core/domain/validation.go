package domain

type ValidationReport struct {
	BackupID        string   `json:"backupId"`
	IsValid         bool     `json:"isValid"`
	ChecksumMatches bool     `json:"checksumMatches"`
	SizeMatches     bool     `json:"sizeMatches"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
}
