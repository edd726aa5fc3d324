package schemas_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
)

func TestDateJSON(t *testing.T) {
	t.Parallel()

	t.Run("marshals as calendar date", func(t *testing.T) {
		d := schemas.NewDate(2023, time.May, 1)
		out, err := json.Marshal(d)
		require.NoError(t, err)
		assert.Equal(t, `"2023-05-01"`, string(out))
	})

	t.Run("nil pointer marshals as null", func(t *testing.T) {
		out, err := json.Marshal(schemas.BillingRecord{})
		require.NoError(t, err)
		assert.Contains(t, string(out), `"claim_date":null`)
		assert.Contains(t, string(out), `"payment_method":null`)
		assert.Contains(t, string(out), `"payment_date":null`)
	})

	t.Run("unmarshal accepts null and rejects garbage", func(t *testing.T) {
		var rec schemas.BillingRecord
		require.NoError(t, json.Unmarshal([]byte(`{"claim_date":"2023-06-01","start_date":null}`), &rec))
		require.NotNil(t, rec.ClaimDate)
		assert.True(t, rec.ClaimDate.Equal(schemas.NewDate(2023, time.June, 1)))
		assert.Nil(t, rec.StartDate)

		err := json.Unmarshal([]byte(`{"claim_date":"June"}`), &rec)
		assert.Error(t, err)
	})
}

func TestBillingRecordClaimKey(t *testing.T) {
	t.Parallel()

	rec := schemas.BillingRecord{ClaimDate: schemas.NewDate(2023, time.April, 17).Ptr()}
	key, ok := rec.ClaimKey()
	require.True(t, ok)
	assert.Equal(t, "2023-04-01", key.String())

	_, ok = schemas.BillingRecord{}.ClaimKey()
	assert.False(t, ok)
}

func TestToPaidProjection(t *testing.T) {
	t.Parallel()

	rec := schemas.BillingRecord{
		ClaimDate: schemas.NewDate(2023, time.January, 1).Ptr(),
		Usage:     120.5,
		Amount:    45000,
		Paid:      44000,
		Unpaid:    1000,
	}
	out, err := json.Marshal(rec.ToPaid())
	require.NoError(t, err)
	assert.JSONEq(t, `{"claim_date":"2023-01-01","usage":120.5,"paid":44000}`, string(out))
}

func TestFetchRequestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		req     schemas.FetchRequest
		wantErr string
	}{
		{"complete", schemas.FetchRequest{UserID: "u", UserPw: "p", UserNum: "1"}, ""},
		{"missing user id", schemas.FetchRequest{UserPw: "p", UserNum: "1"}, "userId"},
		{"missing password", schemas.FetchRequest{UserID: "u", UserNum: "1"}, "userPw"},
		{"missing account", schemas.FetchRequest{UserID: "u", UserPw: "p"}, "userNum"},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFetchRequestWireNames(t *testing.T) {
	t.Parallel()

	var req schemas.FetchRequest
	require.NoError(t, json.Unmarshal([]byte(`{"userId":"a","userPw":"b","userNum":"c","testMode":true}`), &req))
	assert.Equal(t, schemas.FetchRequest{UserID: "a", UserPw: "b", UserNum: "c", TestMode: true}, req)
}
