package domain

// DashboardView 仪表盘一致性快照
type DashboardView struct {
	Credits              int64           `json:"credits"`
	TotalAPICalls        int64           `json:"totalApiCalls"`
	TotalImagesGenerated int64           `json:"totalImagesGenerated"`
	TotalCreditsUsed     int64           `json:"totalCreditsUsed"`
	SuccessRate          float64         `json:"successRate"`
	RecentActivity       []ActivityEntry `json:"recentActivity"`
}
