package cascade

import iface "CascadeDetServer/interface"

// Report is the wire form of a Result.
type Report struct {
	RequestID string          `json:"requestId"`
	Regions   []iface.Region  `json:"regions"`
	Failures  []FailureReport `json:"failures,omitempty"`
}

type FailureReport struct {
	RegionIndex int    `json:"regionIndex"`
	Label       string `json:"label"`
	SubModel    string `json:"subModel"`
	Kind        string `json:"kind"`
	Error       string `json:"error"`
}

func (r *Result) Report() Report {
	rep := Report{RequestID: r.RequestID, Regions: r.Regions}
	if rep.Regions == nil {
		rep.Regions = []iface.Region{}
	}
	for _, f := range r.Failures {
		rep.Failures = append(rep.Failures, FailureReport{
			RegionIndex: f.RegionIndex,
			Label:       f.Label,
			SubModel:    f.SubModel,
			Kind:        string(f.Kind),
			Error:       f.Err.Error(),
		})
	}
	return rep
}
