package nn

// ModelTelemetry summarizes a model's structure after construction.
type ModelTelemetry struct {
	ID          string           `json:"id"`
	TotalParams int              `json:"total_parameters"`
	Layers      []LayerTelemetry `json:"layers"`
}

// LayerTelemetry describes one named weight buffer.
type LayerTelemetry struct {
	Name       string `json:"name"`
	Parameters int    `json:"parameters"`
}

// ExtractTelemetry builds a telemetry record from a parameter set.
func ExtractTelemetry(id string, params []*Parameter) ModelTelemetry {
	tel := ModelTelemetry{
		ID:     id,
		Layers: make([]LayerTelemetry, 0, len(params)),
	}
	for _, p := range params {
		tel.Layers = append(tel.Layers, LayerTelemetry{
			Name:       p.Name,
			Parameters: len(p.Data),
		})
		tel.TotalParams += len(p.Data)
	}
	return tel
}
