package entity

// Unknown is substituted for any lead field the provider did not return.
// Fields are always present in responses, never omitted.
const Unknown = "N/A"

type Lead struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Phone       string  `json:"phone"`
	Website     string  `json:"website"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviews"`
	Email       string  `json:"email"`
}
