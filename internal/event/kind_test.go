package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisher/internal/types"
)

func testUser() *types.User {
	return &types.User{
		ID:        "u-1",
		FirstName: "Linh",
		LastName:  "Tran",
		BirthDate: "1996-10-09",
		Timezone:  "Asia/Ho_Chi_Minh",
	}
}

func TestBirthdayKind_IsDue(t *testing.T) {
	kind := BirthdayKind{TargetHour: 9}
	u := testUser()

	// 09:00 local in UTC+7 is 02:00 UTC.
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before target hour", time.Date(2024, 10, 9, 1, 0, 0, 0, time.UTC), false},
		{"exactly at target", time.Date(2024, 10, 9, 2, 0, 0, 0, time.UTC), true},
		{"after target hour", time.Date(2024, 10, 9, 5, 30, 0, 0, time.UTC), true},
		{"wrong day", time.Date(2024, 10, 8, 5, 30, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due, err := kind.IsDue(u, tc.now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, due)
		})
	}
}

func TestBirthdayKind_IsDue_BadTimezone(t *testing.T) {
	kind := BirthdayKind{TargetHour: 9}
	u := testUser()
	u.Timezone = "Not/AZone"

	_, err := kind.IsDue(u, time.Date(2024, 10, 9, 5, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestBirthdayKind_Message(t *testing.T) {
	kind := BirthdayKind{TargetHour: 9}
	assert.Equal(t, "Hey, Linh Tran it's your birthday", kind.Message(testUser()))
}

func TestBirthdayKind_DeliveryFields(t *testing.T) {
	kind := BirthdayKind{TargetHour: 9}
	fields := kind.DeliveryFields(testUser())
	assert.Equal(t, "Linh Tran", fields["full_name"])
	assert.Equal(t, "Linh", fields["first_name"])
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(BirthdayKind{TargetHour: 9})

	k, err := reg.Get(types.EventKindBirthday)
	require.NoError(t, err)
	assert.Equal(t, types.EventKindBirthday, k.Name())

	_, err = reg.Get("anniversary")
	assert.Error(t, err)
}
