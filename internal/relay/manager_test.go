package relay

import (
	"context"
	"errors"
	"testing"
)

func TestSwitchEach(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name         string
		numbers      []int
		outcomes     map[int]Delivery
		errs         map[int]error
		wantDelivery Delivery
		wantErr      error
		wantCalls    []int
	}{
		{
			name:         "all delivered",
			numbers:      []int{1, 2, 3},
			wantDelivery: DeliveryDelivered,
			wantCalls:    []int{1, 2, 3},
		},
		{
			name:         "empty list",
			numbers:      nil,
			wantDelivery: DeliveryDelivered,
		},
		{
			name:         "stops at first error",
			numbers:      []int{1, 2, 3},
			errs:         map[int]error{2: errBoom},
			wantDelivery: DeliveryNotDelivered,
			wantErr:      errBoom,
			wantCalls:    []int{1, 2},
		},
		{
			name:         "stops at first undelivered",
			numbers:      []int{4, 5, 6},
			outcomes:     map[int]Delivery{4: DeliveryNotDelivered},
			wantDelivery: DeliveryNotDelivered,
			wantCalls:    []int{4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []int
			fn := func(_ context.Context, n int) (Delivery, error) {
				calls = append(calls, n)
				if err := tt.errs[n]; err != nil {
					return DeliveryNotDelivered, err
				}
				if d, ok := tt.outcomes[n]; ok {
					return d, nil
				}
				return DeliveryDelivered, nil
			}

			d, err := SwitchEach(context.Background(), tt.numbers, fn)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if d != tt.wantDelivery {
				t.Errorf("delivery = %v, want %v", d, tt.wantDelivery)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
					break
				}
			}
		})
	}
}
