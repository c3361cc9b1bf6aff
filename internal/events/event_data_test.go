package events

import "testing"

func TestEventDataTypesMatch(t *testing.T) {
	cases := []struct {
		name string
		data EventData
		want EventType
	}{
		{"requirement created", &RequirementCreatedData{}, RequirementCreated},
		{"availability created", &AvailabilityCreatedData{}, AvailabilityCreated},
		{"match proposed", &MatchProposedData{}, MatchProposed},
		{"negotiation started", &NegotiationStartedData{}, NegotiationStarted},
		{"negotiation accepted", &NegotiationAcceptedData{}, NegotiationAccepted},
		{"risk block", &RiskBlockData{}, RiskBlock},
		{"risk warning", &RiskWarningData{}, RiskWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.data.EventType(); got != tc.want {
				t.Errorf("EventType() = %s, want %s", got, tc.want)
			}
		})
	}
}
