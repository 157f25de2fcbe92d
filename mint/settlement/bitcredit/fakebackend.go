package bitcredit

import "context"

type fakeBill struct {
	status BillStatus
}

// FakeAdapter is an in-memory stand-in for Adapter used by tests in
// place of a real bitcredit node.
type FakeAdapter struct {
	bills map[string]*fakeBill
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{bills: make(map[string]*fakeBill)}
}

func billKey(nodeID, billID string) string {
	return nodeID + "/" + billID
}

// RegisterBill seeds a bill's maturity date the way a real node would
// report it as soon as the bill is known, before it is endorsed.
func (a *FakeAdapter) RegisterBill(nodeID, billID string, maturityDate int64) {
	a.bills[billKey(nodeID, billID)] = &fakeBill{status: BillStatus{MaturityDate: maturityDate}}
}

func (a *FakeAdapter) CheckBill(ctx context.Context, nodeID, billID string) (BillStatus, error) {
	bill, ok := a.bills[billKey(nodeID, billID)]
	if !ok {
		return BillStatus{}, errBillNotRegistered(nodeID, billID)
	}
	return bill.status, nil
}

// Endorse simulates the bill being endorsed and the endorsement sent
// to the mint, the event CheckBill's Paid() reports on afterwards.
func (a *FakeAdapter) Endorse(nodeID, billID string) error {
	bill, ok := a.bills[billKey(nodeID, billID)]
	if !ok {
		return errBillNotRegistered(nodeID, billID)
	}
	bill.status.Endorsed = true
	bill.status.Sent = true
	return nil
}

func errBillNotRegistered(nodeID, billID string) error {
	return &billNotRegisteredError{nodeID: nodeID, billID: billID}
}

type billNotRegisteredError struct {
	nodeID string
	billID string
}

func (e *billNotRegisteredError) Error() string {
	return "bitcredit: bill " + e.billID + " for node " + e.nodeID + " is not registered"
}
