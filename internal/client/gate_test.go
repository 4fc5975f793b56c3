package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllows(t *testing.T) {
	testCases := []struct {
		name   string
		role   Role
		action Action
		want   bool
	}{
		{name: "admin edits items", role: RoleAdmin, action: ActionEditItems, want: true},
		{name: "admin records payment", role: RoleAdmin, action: ActionRecordPayment, want: true},
		{name: "guest assigns", role: RoleGuest, action: ActionAssign, want: true},
		{name: "guest edits items", role: RoleGuest, action: ActionEditItems, want: false},
		{name: "guest edits guests", role: RoleGuest, action: ActionEditGuests, want: false},
		{name: "guest edits rates", role: RoleGuest, action: ActionEditRates, want: false},
		{name: "guest records payment", role: RoleGuest, action: ActionRecordPayment, want: false},
		{name: "unknown role", role: Role("visitor"), action: ActionAssign, want: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.want, Allows(testCase.role, testCase.action))
		})
	}
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, []Action{ActionAssign}, Capabilities(RoleGuest))
	assert.Len(t, Capabilities(RoleAdmin), len(allActions))
}
