package resource

import "testing"

func TestParseARN(t *testing.T) {
	cases := []struct {
		arn      string
		service  string
		region   string
		account  string
		kind     string
		id       string
		typeName string
	}{
		{
			arn:     "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc123",
			service: "ec2", region: "us-east-1", account: "123456789012",
			kind: "instance", id: "i-0abc123", typeName: "ec2:instance",
		},
		{
			arn:     "arn:aws:s3:::team-data-bucket",
			service: "s3", region: "", account: "",
			kind: "team-data-bucket", id: "team-data-bucket", typeName: "s3:bucket",
		},
		{
			arn:     "arn:aws:rds:eu-west-1:123456789012:db:orders-primary",
			service: "rds", region: "eu-west-1", account: "123456789012",
			kind: "db", id: "orders-primary", typeName: "rds:db",
		},
		{
			arn:     "arn:aws:iam::123456789012:role/service/deploy-role",
			service: "iam", region: "", account: "123456789012",
			kind: "role", id: "deploy-role", typeName: "iam:role",
		},
	}

	for _, tc := range cases {
		p, err := ParseARN(tc.arn)
		if err != nil {
			t.Errorf("ParseARN(%q): %v", tc.arn, err)
			continue
		}
		if p.Service != tc.service || p.Region != tc.region || p.AccountID != tc.account {
			t.Errorf("%q parts = %+v", tc.arn, p)
		}
		if p.Kind() != tc.kind {
			t.Errorf("%q kind = %q, want %q", tc.arn, p.Kind(), tc.kind)
		}
		if p.ID() != tc.id {
			t.Errorf("%q id = %q, want %q", tc.arn, p.ID(), tc.id)
		}
		if p.TypeString() != tc.typeName {
			t.Errorf("%q type = %q, want %q", tc.arn, p.TypeString(), tc.typeName)
		}
	}
}

func TestParseARNRejectsMalformed(t *testing.T) {
	for _, arn := range []string{
		"",
		"not-an-arn",
		"arn:aws:ec2:us-east-1",      // too few fields
		"urn:aws:ec2:us-east-1:1:r/x", // wrong prefix
	} {
		if _, err := ParseARN(arn); err == nil {
			t.Errorf("ParseARN(%q) accepted", arn)
		}
	}
}

func TestDisplayName(t *testing.T) {
	withTag := Resource{
		ARN:  "arn:aws:ec2:us-east-1:123:instance/i-1",
		Tags: map[string]string{"Name": "payments-api"},
	}
	if n := withTag.DisplayName(); n != "payments-api" {
		t.Errorf("name tag = %q", n)
	}

	withField := Resource{ARN: "arn:aws:ec2:us-east-1:123:instance/i-1", Name: "worker-2"}
	if n := withField.DisplayName(); n != "worker-2" {
		t.Errorf("name field = %q", n)
	}

	bare := Resource{ARN: "arn:aws:ec2:us-east-1:123:instance/i-1"}
	if n := bare.DisplayName(); n != "i-1" {
		t.Errorf("arn fallback = %q", n)
	}
}

func TestIsGlobal(t *testing.T) {
	if !(Resource{Region: GlobalRegion}).IsGlobal() {
		t.Error("global region not recognised")
	}
	if (Resource{Region: "us-east-1"}).IsGlobal() {
		t.Error("regional resource read as global")
	}
}
