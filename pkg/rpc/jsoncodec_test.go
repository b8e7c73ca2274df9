package rpc

import "testing"

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := jsonCodec{}

	req := LaunchTasksRequest{
		JobID:          100,
		StepID:         0,
		UID:            1000,
		LocalTaskCount: 2,
		GlobalTaskIDs:  []uint32{0, 1},
		Argv:           []string{"/bin/true"},
	}

	data, err := codec.Marshal(&req)
	if err != nil {
		t.Fatal(err)
	}

	var got LaunchTasksRequest
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	if got.JobID != req.JobID || got.UID != req.UID || len(got.GlobalTaskIDs) != 2 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestJSONCodecName(t *testing.T) {
	if (jsonCodec{}).Name() != "json" {
		t.Fatalf("codec name = %q, want json", (jsonCodec{}).Name())
	}
	if CodecName != "json" {
		t.Fatalf("CodecName = %q, want json", CodecName)
	}
}
