package rakuraku

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

const (
	testUsername = "jane.doe-01@example.com"
	testPassword = "hunter2"
	testToken    = "csrf-token-value"
)

const loginPageHtml = `<!DOCTYPE html>
<html>
<body>
	<form name="fm_search"><input type="hidden" name="_token" value="wrong-form"></form>
	<form name="fm_login" method="post" action="/top/login/">
		<input type="hidden" name="_token" value="%s">
		<input type="text" name="login_cd">
		<input type="password" name="login_pwd">
	</form>
</body>
</html>`

// fakePortal imitates the endpoints of the delivery portal that the client
// talks to.
type fakePortal struct {
	server *httptest.Server

	mutex sync.Mutex
	// sessions holds the session cookie values that have logged in
	sessions  map[string]bool
	sessionNo int

	// loginPage overrides the html served at /
	loginPage string
	// alwaysExpired makes every date list report an expired session
	alwaysExpired bool
	// dateListStatus overrides the status code of the date list endpoint
	dateListStatus int
	dateListBody   string
	// itemListExpired is the number of item list requests still to be answered
	// with the expired marker, negative means every one
	itemListExpired int
	// itemLists maps menu_date to the html fragment of that day
	itemLists map[string]string

	loginPageCalls int
	loginCalls     int
	dateListCalls  int
	itemListCalls  []string
	dateListForms  []url.Values
}

func newFakePortal(t testing.TB) *fakePortal {
	p := &fakePortal{
		sessions:     map[string]bool{},
		dateListBody: `[]`,
		itemLists:    map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", p.handleLoginPage)
	mux.HandleFunc("POST /top/login/", p.handleLogin)
	mux.HandleFunc("GET /order/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>order</body></html>")
	})
	mux.HandleFunc("POST /js_delivery/date_list/", p.handleDateList)
	mux.HandleFunc("POST /js_delivery/item_list/", p.handleItemList)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) loggedIn(r *http.Request) bool {
	cookie, err := r.Cookie("rakuraku_session")
	if err != nil {
		return false
	}
	return p.sessions[cookie.Value]
}

func (p *fakePortal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.loginPageCalls++

	if p.loginPage != "" {
		fmt.Fprint(w, p.loginPage)
		return
	}
	fmt.Fprintf(w, loginPageHtml, testToken)
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.loginCalls++

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("_token") != testToken ||
		r.PostForm.Get("login_cd") != testUsername ||
		r.PostForm.Get("login_pwd") != testPassword {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	p.sessionNo++
	session := fmt.Sprintf("session-%d", p.sessionNo)
	p.sessions[session] = true
	http.SetCookie(w, &http.Cookie{Name: "rakuraku_session", Value: session, Path: "/"})
	http.Redirect(w, r, "/order/", http.StatusFound)
}

func (p *fakePortal) handleDateList(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.dateListCalls++

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.dateListForms = append(p.dateListForms, r.PostForm)

	if p.dateListStatus != 0 {
		w.WriteHeader(p.dateListStatus)
		return
	}

	w.Header().Set("content-type", "application/json")
	if p.alwaysExpired || !p.loggedIn(r) {
		fmt.Fprint(w, `{"js_status":"session_timeout"}`)
		return
	}
	fmt.Fprint(w, p.dateListBody)
}

func (p *fakePortal) handleItemList(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	day := r.PostForm.Get("menu_date")
	p.itemListCalls = append(p.itemListCalls, day)

	w.Header().Set("content-type", "application/json")
	if !p.loggedIn(r) || p.itemListExpired != 0 {
		if p.itemListExpired > 0 {
			p.itemListExpired--
		}
		fmt.Fprint(w, `{"js_status":"session_timeout"}`)
		return
	}
	encoded, err := json.Marshal(p.itemLists[day])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(encoded)
}

func newTestClient(t testing.TB, portal *fakePortal) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:           portal.server.URL,
		Username:          testUsername,
		Password:          testPassword,
		RequestsPerSecond: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}
