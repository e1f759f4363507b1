package enums

// ReservationKind distinguishes holds from releases in the reservation log.
type ReservationKind string

const (
	ReservationKindReserve ReservationKind = "reserve"
	ReservationKindRelease ReservationKind = "release"
)

func (k ReservationKind) IsValid() bool {
	return k == ReservationKindReserve || k == ReservationKindRelease
}
