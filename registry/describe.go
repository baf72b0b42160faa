package registry

import iface "CascadeDetServer/interface"

// Description is a serializable summary of the registry.
type Description struct {
	MaxConcurrentRequests int                         `json:"maxConcurrentRequests"`
	MainModel             iface.ModelPaths            `json:"mainModel"`
	SubModels             map[string][]SubModelDetail `json:"subModels"`
}

type SubModelDetail struct {
	Name       string   `json:"name"`
	ModelPath  string   `json:"modelPath,omitempty"`
	ArchPath   string   `json:"archPath,omitempty"`
	Weights    string   `json:"weights"`
	Conditions []string `json:"conditions,omitempty"`
}

func (r *Registry) Describe() Description {
	d := Description{
		MaxConcurrentRequests: r.maxConcurrent,
		MainModel:             r.mainPaths,
		SubModels:             make(map[string][]SubModelDetail, len(r.subModels)),
	}
	for label, subs := range r.subModels {
		details := make([]SubModelDetail, len(subs))
		for i, s := range subs {
			conds := make([]string, len(s.Conditions))
			for j, c := range s.Conditions {
				conds[j] = string(c)
			}
			details[i] = SubModelDetail{
				Name:       s.Name,
				ModelPath:  s.Paths.ModelPath,
				ArchPath:   s.Paths.ArchPath,
				Weights:    s.Weights.String(),
				Conditions: conds,
			}
		}
		d.SubModels[label] = details
	}
	return d
}
