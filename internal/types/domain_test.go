package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFullName(t *testing.T) {
	u := &User{FirstName: "Linh", LastName: "Tran"}
	assert.Equal(t, "Linh Tran", u.FullName())

	u = &User{FirstName: "Cher"}
	assert.Equal(t, "Cher", u.FullName())
}

func TestMarker(t *testing.T) {
	u := &User{}
	assert.True(t, u.Marker(EventKindBirthday).IsZero())

	u.Deliveries = map[string]DeliveryMarker{
		EventKindBirthday: {LastDeliveredDate: "2024-10-09", LastDeliveredAt: "2024-10-09T02:00:05Z"},
	}
	assert.False(t, u.Marker(EventKindBirthday).IsZero())
	assert.True(t, u.Marker("anniversary").IsZero())
}

func TestDeliveredOn(t *testing.T) {
	marker := DeliveryMarker{
		LastDeliveredDate: "2024-10-09",
		LastDeliveredAt:   "2024-10-09T02:00:05Z",
	}

	assert.True(t, marker.DeliveredOn("2024-10-09"))
	assert.False(t, marker.DeliveredOn("2025-10-09"))
	assert.False(t, marker.DeliveredOn("2024-10-08"))

	// The date alone is the witness; the timestamp does not gate it.
	assert.True(t, DeliveryMarker{LastDeliveredDate: "2024-10-09"}.DeliveredOn("2024-10-09"))

	assert.False(t, DeliveryMarker{}.DeliveredOn("2024-10-09"))
	assert.False(t, DeliveryMarker{}.DeliveredOn(""))
}

func TestDeliveredOn_YearBoundary(t *testing.T) {
	// A zone ahead of UTC reaches New Year's Day before UTC does, so the
	// commit timestamp can still read the previous year. The marker must
	// witness the occurrence anyway.
	marker := DeliveryMarker{
		LastDeliveredDate: "2025-01-01",
		LastDeliveredAt:   "2024-12-31T20:00:00Z",
	}
	assert.True(t, marker.DeliveredOn("2025-01-01"))
	assert.False(t, marker.DeliveredOn("2024-01-01"))
}

func TestUserValidate(t *testing.T) {
	valid := func() *User {
		return &User{
			ID:        "u-1",
			FirstName: "Linh",
			BirthDate: "1996-10-09",
			Timezone:  "Asia/Ho_Chi_Minh",
		}
	}

	assert.NoError(t, valid().Validate())

	u := valid()
	u.ID = ""
	assert.Error(t, u.Validate())

	u = valid()
	u.BirthDate = "09/10/1996"
	assert.Error(t, u.Validate())

	u = valid()
	u.Timezone = "Not/AZone"
	assert.Error(t, u.Validate())
}

func TestRealClockIsUTC(t *testing.T) {
	now := RealClock{}.Now()
	_, offset := now.Zone()
	assert.Zero(t, offset)
	assert.WithinDuration(t, time.Now(), now, time.Second)
}
