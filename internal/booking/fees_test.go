package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFee(t *testing.T) {
	base := FeeInput{
		ConsultationFee: 1000,
		PlatformFeeBps:  500,
		SubscriptionBps: 1000,
	}

	tests := []struct {
		name    string
		mutate  func(*FeeInput)
		want    FeeQuote
		wantErr error
	}{
		{
			name:   "standard booking",
			mutate: func(in *FeeInput) {},
			want:   FeeQuote{ConsultationFee: 1000, PlatformFee: 50, TotalAmount: 1050},
		},
		{
			name:   "subscription discount",
			mutate: func(in *FeeInput) { in.HasSubscription = true },
			want:   FeeQuote{ConsultationFee: 900, PlatformFee: 45, TotalAmount: 945},
		},
		{
			name: "emergency multiplier",
			mutate: func(in *FeeInput) {
				in.IsEmergency = true
				in.EmergencyMultiplier = 1.5
			},
			want: FeeQuote{ConsultationFee: 1500, PlatformFee: 75, TotalAmount: 1575},
		},
		{
			name: "discount applies before multiplier",
			mutate: func(in *FeeInput) {
				in.HasSubscription = true
				in.IsEmergency = true
				in.EmergencyMultiplier = 1.5
			},
			// 1000 -> 900 -> 1350, fee 68 (67.5 rounds up)
			want: FeeQuote{ConsultationFee: 1350, PlatformFee: 68, TotalAmount: 1418},
		},
		{
			name:   "platform fee rounds half up",
			mutate: func(in *FeeInput) { in.ConsultationFee = 1010 },
			// 50.5 rounds up to 51
			want: FeeQuote{ConsultationFee: 1010, PlatformFee: 51, TotalAmount: 1061},
		},
		{
			name: "zero multiplier defaults to one",
			mutate: func(in *FeeInput) {
				in.IsEmergency = true
				in.EmergencyMultiplier = 0
			},
			want: FeeQuote{ConsultationFee: 1000, PlatformFee: 50, TotalAmount: 1050},
		},
		{
			name:    "zero fee rejected",
			mutate:  func(in *FeeInput) { in.ConsultationFee = 0 },
			wantErr: ErrInvalidFee,
		},
		{
			name:    "negative fee rejected",
			mutate:  func(in *FeeInput) { in.ConsultationFee = -500 },
			wantErr: ErrInvalidFee,
		},
		{
			name: "negative multiplier rejected",
			mutate: func(in *FeeInput) {
				in.IsEmergency = true
				in.EmergencyMultiplier = -1.5
			},
			wantErr: ErrInvalidFee,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)

			quote, err := ComputeFee(in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, quote)
			assert.Equal(t, quote.TotalAmount, quote.ConsultationFee+quote.PlatformFee,
				"total must equal adjusted fee plus platform fee")
		})
	}
}

func TestComputeFeeDeterministic(t *testing.T) {
	in := FeeInput{
		ConsultationFee:     1337,
		IsEmergency:         true,
		HasSubscription:     true,
		EmergencyMultiplier: 2.0,
		PlatformFeeBps:      500,
		SubscriptionBps:     1000,
	}

	first, err := ComputeFee(in)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		again, err := ComputeFee(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
