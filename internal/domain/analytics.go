package domain

// DonationAnalytics summarizes donation requests as reported by the backend.
type DonationAnalytics struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByBloodGroup map[string]int `json:"byBloodGroup"`
	TotalDonors  int            `json:"totalDonors,omitempty"`
	TotalUsers   int            `json:"totalUsers,omitempty"`
}
