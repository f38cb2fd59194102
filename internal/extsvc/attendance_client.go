package extsvc

import (
	"context"
	"time"
)

// AttendanceClient talks to the remote Attendance Service.
type AttendanceClient struct {
	c *client
}

var _ Attendance = (*AttendanceClient)(nil)

func NewAttendanceClient(addr, apiKey string) (*AttendanceClient, error) {
	c, err := newClient(addr, apiKey, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &AttendanceClient{c: c}, nil
}

func (a *AttendanceClient) ResolveDNI(ctx context.Context, dni string) (uint, bool, error) {
	var resp struct {
		Found  bool `json:"found"`
		UserID uint `json:"user_id"`
	}
	err := a.c.doJSON(ctx, "POST", "/api/v1/members/resolve-dni", map[string]string{"dni": dni}, &resp)
	if err != nil {
		return 0, false, err
	}
	return resp.UserID, resp.Found, nil
}

func (a *AttendanceClient) VerifyAccess(ctx context.Context, userID, locationID uint) (bool, string, error) {
	var resp struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	in := map[string]uint{"user_id": userID, "location_id": locationID}
	if err := a.c.doJSON(ctx, "POST", "/api/v1/access/verify", in, &resp); err != nil {
		return false, "", err
	}
	return resp.OK, resp.Reason, nil
}

func (a *AttendanceClient) VerifyDNIPIN(ctx context.Context, dni, pin string, locationID uint) (bool, string, uint, error) {
	var resp struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
		UserID uint   `json:"user_id"`
	}
	in := map[string]any{"dni": dni, "pin": pin, "location_id": locationID}
	if err := a.c.doJSON(ctx, "POST", "/api/v1/access/verify-dni-pin", in, &resp); err != nil {
		return false, "", 0, err
	}
	return resp.OK, resp.Reason, resp.UserID, nil
}

func (a *AttendanceClient) RecordAttendance(ctx context.Context, userID, locationID uint) error {
	in := map[string]uint{"user_id": userID, "location_id": locationID}
	return a.c.doJSON(ctx, "POST", "/api/v1/attendance", in, nil)
}
