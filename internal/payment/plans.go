package payment

// Plan defines a purchasable credit bundle.
type Plan struct {
	ID      string `json:"id"`
	Credits int    `json:"credits"`
	Amount  int    `json:"amount"` // price in whole currency units
}

// Plans is the fixed plan table.
var Plans = map[string]Plan{
	"Basic":    {ID: "Basic", Credits: 100, Amount: 49},
	"Advanced": {ID: "Advanced", Credits: 250, Amount: 99},
	"Premium":  {ID: "Premium", Credits: 2500, Amount: 999},
}

// GetPlan looks up a plan by id.
func GetPlan(id string) (Plan, bool) {
	p, ok := Plans[id]
	return p, ok
}
