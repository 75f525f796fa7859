package wire

import "fmt"

// Tag identifies both the operation carried by a frame and the reply
// channel for it: a response always travels back under the request's tag.
type Tag int32

const (
	TagRegister     Tag = 1
	TagLogin        Tag = 2
	TagAddEvent     Tag = 3
	TagAggQuantity  Tag = 4
	TagAggVolume    Tag = 5
	TagAggAverage   Tag = 6
	TagAggMax       Tag = 7
	TagSimulSales   Tag = 8
	TagConsecSales  Tag = 9
	TagNewDay       Tag = 10
	TagFilterEvents Tag = 11
)

var tagNames = map[Tag]string{
	TagRegister:     "REGISTER",
	TagLogin:        "LOGIN",
	TagAddEvent:     "ADD_EVENT",
	TagAggQuantity:  "AG_QUANTITY",
	TagAggVolume:    "AG_VOLUME",
	TagAggAverage:   "AG_AVG",
	TagAggMax:       "AG_MAX",
	TagSimulSales:   "SIMUL_SALES",
	TagConsecSales:  "CONSEC_SALES",
	TagNewDay:       "NEW_DAY",
	TagFilterEvents: "FILTER_EVENTS",
}

// Known reports whether t is part of the protocol.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TAG(%d)", int32(t))
}
