package platform

import "testing"

func TestParseAzureRepo(t *testing.T) {
	tests := []struct {
		url     string
		org     string
		project string
		name    string
	}{
		{
			"https://dev.azure.com/acme/Platform/_git/firmware",
			"https://dev.azure.com/acme", "Platform", "firmware",
		},
		{
			"https://acme@dev.azure.com/acme/Platform/_git/firmware",
			"https://dev.azure.com/acme", "Platform", "firmware",
		},
		{
			"git@ssh.dev.azure.com:v3/acme/Platform/firmware",
			"https://dev.azure.com/acme", "Platform", "firmware",
		},
		{
			"https://acme.visualstudio.com/Platform/_git/firmware",
			"https://dev.azure.com/acme", "Platform", "firmware",
		},
		{
			"https://acme.visualstudio.com/DefaultCollection/Platform/_git/firmware",
			"https://dev.azure.com/acme", "Platform", "firmware",
		},
		{
			"https://dev.azure.com/acme/My%20Project/_git/firmware",
			"https://dev.azure.com/acme", "My Project", "firmware",
		},
	}
	for _, tt := range tests {
		got, err := parseAzureRepo(tt.url)
		if err != nil {
			t.Errorf("parseAzureRepo(%q) error = %v", tt.url, err)
			continue
		}
		if got.Org != tt.org || got.Project != tt.project || got.Name != tt.name {
			t.Errorf("parseAzureRepo(%q) = %+v, want org %q project %q name %q",
				tt.url, got, tt.org, tt.project, tt.name)
		}
	}
}

func TestParseAzureRepoRejectsBadURLs(t *testing.T) {
	urls := []string{
		"https://dev.azure.com/acme",
		"https://dev.azure.com/acme/Platform/firmware",
		"https://github.com/acme/firmware",
	}
	for _, url := range urls {
		if _, err := parseAzureRepo(url); err == nil {
			t.Errorf("parseAzureRepo(%q) = nil error, want failure", url)
		}
	}
}

func TestAzureState(t *testing.T) {
	tests := []struct {
		in   string
		want PRState
	}{
		{"active", StateOpen},
		{"completed", StateMerged},
		{"abandoned", StateClosed},
	}
	for _, tt := range tests {
		if got := azureState(tt.in); got != tt.want {
			t.Errorf("azureState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func blocking(status string) policyEvaluation {
	e := policyEvaluation{Status: status}
	e.Configuration.IsBlocking = true
	e.Configuration.IsEnabled = true
	return e
}

func TestAggregatePolicies(t *testing.T) {
	optionalRejected := policyEvaluation{Status: "rejected"}
	optionalRejected.Configuration.IsBlocking = false
	optionalRejected.Configuration.IsEnabled = true

	tests := []struct {
		name  string
		evals []policyEvaluation
		want  ChecksResult
	}{
		{"no policies", nil, ChecksPassed},
		{"all approved", []policyEvaluation{blocking("approved")}, ChecksPassed},
		{"queued", []policyEvaluation{blocking("approved"), blocking("queued")}, ChecksPending},
		{"running", []policyEvaluation{blocking("running")}, ChecksPending},
		{"rejected", []policyEvaluation{blocking("queued"), blocking("rejected")}, ChecksFailed},
		{"optional rejection ignored", []policyEvaluation{optionalRejected}, ChecksPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregatePolicies(tt.evals); got != tt.want {
				t.Errorf("aggregatePolicies() = %q, want %q", got, tt.want)
			}
		})
	}
}
