package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
		want  Status
		err   bool
	}{
		{StatusUnbilled, EventSubmit, StatusPending, false},
		{StatusPending, EventSubmit, StatusPending, false},
		{StatusPending, EventApprove, StatusApproved, false},
		{StatusApproved, EventApprove, StatusApproved, false},
		{StatusPending, EventDecline, StatusDeclined, false},
		{StatusApproved, EventDecline, StatusDeclined, false},
		{StatusDeclined, EventResubmit, StatusPending, false},
		{StatusApproved, EventInvoice, StatusBilled, false},
		{StatusBilled, EventInvoice, StatusBilled, false},

		{StatusUnbilled, EventApprove, StatusUnbilled, true},
		{StatusUnbilled, EventInvoice, StatusUnbilled, true},
		{StatusPending, EventInvoice, StatusPending, true},
		{StatusApproved, EventSubmit, StatusApproved, true},
		{StatusDeclined, EventApprove, StatusDeclined, true},
		{StatusDeclined, EventSubmit, StatusDeclined, true},
		{StatusBilled, EventDecline, StatusBilled, true},
		{StatusBilled, EventSubmit, StatusBilled, true},
		{StatusUnbilled, Event("archive"), StatusUnbilled, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.event), func(t *testing.T) {
			got, err := Transition(tc.from, tc.event)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestViewStatus(t *testing.T) {
	assert.Equal(t, EntryStatusUnbilled, StatusUnbilled.ViewStatus())
	assert.Equal(t, EntryStatusPending, StatusPending.ViewStatus())
	assert.Equal(t, EntryStatusPending, StatusApproved.ViewStatus())
	assert.Equal(t, EntryStatusUnbilled, StatusDeclined.ViewStatus())
	assert.Equal(t, EntryStatusBilled, StatusBilled.ViewStatus())
}

func TestEditable(t *testing.T) {
	assert.True(t, BillingItem{Status: StatusUnbilled}.Editable())
	assert.True(t, BillingItem{Status: StatusDeclined}.Editable())
	assert.False(t, BillingItem{Status: StatusPending}.Editable())
	assert.False(t, BillingItem{Status: StatusApproved}.Editable())
	assert.False(t, BillingItem{Status: StatusBilled}.Editable())
}
