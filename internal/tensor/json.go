package tensor

import "github.com/goccy/go-json"

type tensorJSON struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// MarshalJSON encodes the tensor as {"shape": [...], "data": [...]}.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	return json.Marshal(tensorJSON{Shape: t.shape, Data: t.data})
}

// UnmarshalJSON decodes the form written by MarshalJSON and validates that the
// data length matches the shape.
func (t *Tensor) UnmarshalJSON(b []byte) error {
	var raw tensorJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	decoded, err := FromData(raw.Data, raw.Shape...)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}
