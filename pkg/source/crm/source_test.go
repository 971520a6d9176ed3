package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phimask/phimask/pkg/source"
	"github.com/phimask/phimask/pkg/version"
)

// fakeCRM is an in-process stand-in for the CRM token and query endpoints.
type fakeCRM struct {
	server      *httptest.Server
	tokens      atomic.Int32
	queries     atomic.Int32
	lastQuery   atomic.Value
	userAgent   atomic.Value
	rejectFirst atomic.Bool // 401 the first query to force a re-auth
}

func newFakeCRM(t *testing.T, pages ...string) *fakeCRM {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeCRM{}
	r := gin.New()
	r.POST("/services/oauth2/token", func(c *gin.Context) {
		if c.PostForm("grant_type") != "client_credentials" || c.PostForm("client_secret") != "s3cret" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client", "error_description": "invalid client credentials"})
			return
		}
		n := f.tokens.Add(1)
		c.JSON(http.StatusOK, gin.H{"access_token": "tok-" + string(rune('0'+n)), "instance_url": f.server.URL, "token_type": "Bearer"})
	})
	r.GET("/services/data/:version/query", func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Status(http.StatusUnauthorized)
			return
		}
		if f.rejectFirst.CompareAndSwap(true, false) {
			c.JSON(http.StatusUnauthorized, []gin.H{{"message": "Session expired", "errorCode": "INVALID_SESSION_ID"}})
			return
		}
		f.queries.Add(1)
		f.lastQuery.Store(c.Query("q"))
		f.userAgent.Store(c.GetHeader("User-Agent"))
		if c.Query("q") == "SELECT Broken FROM Nowhere" {
			c.JSON(http.StatusBadRequest, []gin.H{{"message": "sObject type 'Nowhere' is not supported", "errorCode": "INVALID_TYPE"}})
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(pages[0]))
	})
	r.GET("/services/data/:version/query/:cursor", func(c *gin.Context) {
		f.queries.Add(1)
		idx := 1
		if c.Param("cursor") == "01gD0000002-4000" && len(pages) > 2 {
			idx = 2
		}
		c.Data(http.StatusOK, "application/json", []byte(pages[idx]))
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCRM) client() *Client {
	return NewClient(Config{URL: f.server.URL, ClientID: "id", ClientSecret: "s3cret"})
}

const singlePage = `{
  "totalSize": 2,
  "done": true,
  "records": [
    {"attributes": {"type": "Patient__c", "url": "/x/1"}, "Id": "a01", "MRN__c": "M001", "First_Name__c": "Maria",
     "Facility__r": {"attributes": {"type": "Facility__c"}, "Name": "North Clinic"}, "Age__c": 42},
    {"attributes": {"type": "Patient__c", "url": "/x/2"}, "Id": "a02", "MRN__c": "M002", "First_Name__c": null,
     "Facility__r": null, "Age__c": 37.5}
  ]
}`

func TestSource_FetchFlattensRecords(t *testing.T) {
	f := newFakeCRM(t, singlePage)
	src := NewSource(f.client(), "patients", Query{Object: "Patient__c", Columns: []string{"Id", "MRN__c", "First_Name__c", "Facility__r.Name"}})

	rs, err := src.Fetch(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "patients", rs.Name)
	assert.Equal(t, []string{"Id", "MRN__c", "First_Name__c", "Facility__r.Name", "Age__c"}, rs.Columns)
	require.Equal(t, 2, rs.Len())

	assert.Equal(t, "North Clinic", rs.Rows[0].Get("Facility__r.Name").String())
	assert.Equal(t, "42", rs.Rows[0].Get("Age__c").String())
	assert.True(t, rs.Rows[1].Get("First_Name__c").IsNull())
	assert.True(t, rs.Rows[1].Get("Facility__r.Name").IsNull())
	assert.Equal(t, "37.5", rs.Rows[1].Get("Age__c").String())
	assert.False(t, rs.HasColumn("attributes"))
	assert.False(t, rs.HasColumn("Facility__r"))

	assert.Equal(t, "SELECT Id, MRN__c, First_Name__c, Facility__r.Name FROM Patient__c", f.lastQuery.Load())
	assert.Equal(t, int32(1), f.tokens.Load())
	assert.Equal(t, version.Full(), f.userAgent.Load())
}

func TestSource_FollowsPagination(t *testing.T) {
	first := `{"totalSize": 3, "done": false, "nextRecordsUrl": "/services/data/v59.0/query/01gD0000002-2000",
	  "records": [{"Id": "a01"}]}`
	second := `{"totalSize": 3, "done": false, "nextRecordsUrl": "/services/data/v59.0/query/01gD0000002-4000",
	  "records": [{"Id": "a02"}]}`
	third := `{"totalSize": 3, "done": true, "records": [{"Id": "a03"}]}`
	f := newFakeCRM(t, first, second, third)

	rs, err := NewSource(f.client(), "patients", Query{Object: "Patient__c", Columns: []string{"Id"}}).Fetch(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, 3, rs.Len())
	assert.Equal(t, []string{"a01", "a02", "a03"}, rs.Distinct("Id"))
	assert.Equal(t, int32(3), f.queries.Load())
}

func TestSource_EmptyResult(t *testing.T) {
	f := newFakeCRM(t, `{"totalSize": 0, "done": true, "records": []}`)

	rs, err := NewSource(f.client(), "patients", Query{Object: "Patient__c", Columns: []string{"Id", "MRN__c"}}).Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, []string{"Id", "MRN__c"}, rs.Columns)
}

func TestSource_ReauthenticatesOnExpiredSession(t *testing.T) {
	f := newFakeCRM(t, singlePage)
	f.rejectFirst.Store(true)

	rs, err := NewSource(f.client(), "patients", Query{SOQL: "SELECT Id FROM Patient__c"}).Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, int32(2), f.tokens.Load())
}

func TestSource_Errors(t *testing.T) {
	t.Run("bad credentials is an auth error", func(t *testing.T) {
		f := newFakeCRM(t, singlePage)
		client := NewClient(Config{URL: f.server.URL, ClientID: "id", ClientSecret: "wrong"})

		_, err := NewSource(client, "patients", Query{SOQL: "SELECT Id FROM Patient__c"}).Fetch(context.Background(), nil)
		require.ErrorIs(t, err, source.ErrAuth)
		assert.Contains(t, err.Error(), "invalid_client")
	})

	t.Run("rejected query is a query error", func(t *testing.T) {
		f := newFakeCRM(t, singlePage)

		_, err := NewSource(f.client(), "patients", Query{SOQL: "SELECT Broken FROM Nowhere"}).Fetch(context.Background(), nil)
		require.ErrorIs(t, err, source.ErrQuery)
		assert.Contains(t, err.Error(), "INVALID_TYPE")
	})

	t.Run("unreachable host is a connect error", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client := NewClient(Config{URL: server.URL, ClientID: "id", ClientSecret: "s3cret"})

		_, err := NewSource(client, "patients", Query{SOQL: "SELECT Id FROM Patient__c"}).Fetch(context.Background(), nil)
		require.ErrorIs(t, err, source.ErrConnect)

		var serr *source.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "patients", serr.Source)
	})

	t.Run("filters are rejected", func(t *testing.T) {
		f := newFakeCRM(t, singlePage)
		_, err := NewSource(f.client(), "patients", Query{SOQL: "SELECT Id FROM Patient__c"}).
			Fetch(context.Background(), &source.Filter{Column: "Id", Values: []string{"a01"}})
		require.ErrorIs(t, err, source.ErrQuery)
		assert.Equal(t, int32(0), f.queries.Load())
	})
}

func TestBuildSOQL(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		want    string
		wantErr bool
	}{
		{
			name: "columns with order and limit",
			q:    Query{Object: "Patient__c", Columns: []string{"Id", "Facility__r.Name"}, OrderBy: "CreatedDate", Limit: 50},
			want: "SELECT Id, Facility__r.Name FROM Patient__c ORDER BY CreatedDate LIMIT 50",
		},
		{
			name: "explicit statement wins",
			q:    Query{Object: "Ignored", SOQL: "SELECT Id FROM Contact WHERE IsDeleted = false"},
			want: "SELECT Id FROM Contact WHERE IsDeleted = false",
		},
		{name: "injected column", q: Query{Object: "Patient__c", Columns: []string{"Id FROM User --"}}, wantErr: true},
		{name: "bad object", q: Query{Object: "Patient__c; DELETE", Columns: []string{"Id"}}, wantErr: true},
		{name: "no columns", q: Query{Object: "Patient__c"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildSOQL(tt.q)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CRM_URL", "https://login.example.com/")
	t.Setenv("CRM_CLIENT_ID", "id")
	t.Setenv("CRM_CLIENT_SECRET", "secret")
	t.Setenv("CRM_API_VERSION", "")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com", cfg.URL)
	assert.Equal(t, DefaultAPIVersion, cfg.APIVersion)

	t.Setenv("CRM_CLIENT_SECRET", "")
	t.Setenv("CRM_URL", "")
	_, err = LoadConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM_CLIENT_SECRET, CRM_URL")
}
