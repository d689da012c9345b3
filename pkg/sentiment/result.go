package sentiment

// Result is one classification. Its JSON form is the /classify response body.
type Result struct {
	Label      string  `json:"classification"` // human-readable label, LABEL_<id> when unmapped
	LabelID    int     `json:"label_id"`       // arg-max class index, in [0, NumLabels)
	Confidence float64 `json:"confidence"`     // softmax probability of LabelID, 6 decimal places
	NumLabels  int     `json:"num_labels"`     // width of the model's logits
}
