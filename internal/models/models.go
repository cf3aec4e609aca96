package models

// Order is a standing offer to exchange one currency amount for another.
// Amounts are in the currency's smallest unit. The auth hash is never
// serialized to clients; persistence backends store it separately.
type Order struct {
	ID        int64  `json:"id"`
	SendCur   string `json:"sendCur"`
	SendCount int64  `json:"sendCount"`
	GetCur    string `json:"getCur"`
	GetCount  int64  `json:"getCount"`
	GetAddr   string `json:"getAddr"`
	AuthHash  string `json:"-"`
}

// OrderSpec carries the caller-supplied fields of a create_order request.
// Values are trusted verbatim; the server assigns the id.
type OrderSpec struct {
	SendCur   string `json:"sendCur"`
	SendCount int64  `json:"sendCount"`
	GetCur    string `json:"getCur"`
	GetCount  int64  `json:"getCount"`
	GetAddr   string `json:"getAddr"`
}

// Trade is a committed pairing of an Order with an initiating counterparty.
// The consumed Order lives inside the Trade from creation onward. The two
// parties are Order.GetAddr (who posted the order) and InitiatorAddr (who
// matched it); targeted routing uses exactly this pair.
type Trade struct {
	ID                               int64  `json:"id"`
	Order                            *Order `json:"order"`
	InitiatorAddr                    string `json:"initiatorAddr"`
	SecretHash                       string `json:"secretHash"`
	ContractInitiator                string `json:"contractInitiator"`
	ContractParticipant              string `json:"contractParticipant"`
	InitiatorContractTransaction     string `json:"initiatorContractTransaction"`
	ParticipantContractTransaction   string `json:"participantContractTransaction"`
	InitiatorRedemptionTransaction   string `json:"initiatorRedemptionTransaction"`
	ParticipantRedemptionTransaction string `json:"participantRedemptionTransaction"`
	InitiatorCommissionPaid          bool   `json:"commissionInitiatorPaid"`
	ParticipantCommissionPaid        bool   `json:"commissionParticipantPaid"`
	RefundedInit                     bool   `json:"refundedInit"`
	RefundedPart                     bool   `json:"refundedPart"`
	RefundTimeInit                   int64  `json:"refundTimeInit"`
	RefundTimePart                   int64  `json:"refundTimePart"`
	AuthHash                         string `json:"-"`
}

// TradeUpdate is the patch object of an update_trade request. String fields
// overwrite unconditionally. The commission booleans are write-once-true: a
// false or absent value never clears a flag that is already set. The refund
// fields apply only when the key is present in the payload, hence pointers.
type TradeUpdate struct {
	ID                               int64  `json:"id"`
	SecretHash                       string `json:"secretHash"`
	ContractInitiator                string `json:"contractInitiator"`
	ContractParticipant              string `json:"contractParticipant"`
	InitiatorContractTransaction     string `json:"initiatorContractTransaction"`
	ParticipantContractTransaction   string `json:"participantContractTransaction"`
	InitiatorRedemptionTransaction   string `json:"initiatorRedemptionTransaction"`
	ParticipantRedemptionTransaction string `json:"participantRedemptionTransaction"`
	CommissionInitiatorPaid          bool   `json:"commissionInitiatorPaid"`
	CommissionParticipantPaid        bool   `json:"commissionParticipantPaid"`
	RefundedInit                     *bool  `json:"refundedInit"`
	RefundedPart                     *bool  `json:"refundedPart"`
	RefundTimeInit                   *int64 `json:"refundTimeInit"`
	RefundTimePart                   *int64 `json:"refundTimePart"`
}
