package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/ticketmiam/internal/history"
)

type uploadFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(file *uploadFile) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(file.data)
		Expect(err).NotTo(HaveOccurred())
	} else {
		Expect(writer.WriteField("note", "no file")).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		kv          *flakyKV
		scanner     *mockScanner
		storage     *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		events      http.Handler
		ghttpServer *ghttp.Server
	)

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	seed := func(n int) {
		for i := 0; i < n; i++ {
			_, err := service.ProcessReceipt(context.Background(), "ticket.jpg", []byte("\xff\xd8\xff\xe0jpeg"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		}
	}

	BeforeEach(func() {
		kv = newFlakyKV()
		scanner = newMockScanner()
		storage = newMockStorage()
		clock := &steppingClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(history.New(kv), scanner, storage, &sequentialIDs{}, clock)
		auth = BasicAuth{}
		events = nil
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(service, auth, events, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleIndex", func() {
		It("should return HTML containing TicketMiam", func() {
			resp := do(http.MethodGet, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("TicketMiam"))
		})

		It("should reject other methods", func() {
			resp := do(http.MethodPost, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("static files", func() {
		It("should serve the JavaScript with the module MIME type", func() {
			resp := do(http.MethodGet, "/static/app.js", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/javascript; charset=utf-8"))
		})

		It("should serve the stylesheet", func() {
			resp := do(http.MethodGet, "/static/app.css", nil, "")
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "marie", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do(http.MethodGet, "/api/scans", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("TicketMiam"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("marie:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleListScans", func() {
		When("no scans exist", func() {
			It("should return an empty array", func() {
				resp := do(http.MethodGet, "/api/scans", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(MatchJSON("[]"))
			})
		})

		When("scans exist", func() {
			BeforeEach(func() {
				seed(2)
			})

			It("should return them most recent first", func() {
				resp := do(http.MethodGet, "/api/scans", nil, "")
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var scans []map[string]any
				decode(resp, &scans)
				Expect(scans).To(HaveLen(2))
				Expect(scans[0]["id"]).To(Equal("scan-2"))
				Expect(scans[0]["totalScore"]).To(Equal("C"))
				Expect(scans[0]).To(HaveKey("summary"))
				Expect(scans[0]).To(HaveKey("timestamp"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		var file *uploadFile

		BeforeEach(func() {
			file = &uploadFile{name: "ticket.jpg", contentType: "image/jpeg", data: []byte("\xff\xd8\xff\xe0jpeg")}
		})

		upload := func() *http.Response {
			body, contentType := multipartBody(file)
			return do(http.MethodPost, "/api/scans", body, contentType)
		}

		When("the receipt is analyzed", func() {
			It("should return the created scan", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var scan map[string]any
				decode(resp, &scan)
				Expect(scan["id"]).To(Equal("scan-1"))
				Expect(scan["storeName"]).To(Equal("Carrefour"))
				Expect(scan["totalScore"]).To(Equal("C"))
				Expect(scan["summary"].(map[string]any)["totalCalories"]).To(BeNumerically("==", 588))
				Expect(scan["products"]).To(HaveLen(2))
				Expect(scan).NotTo(HaveKey("warning"))
			})
		})

		When("the part has no useful content type", func() {
			BeforeEach(func() {
				file = &uploadFile{name: "IMG_0042.HEIC", data: []byte("heic")}
			})

			It("should derive it from the extension", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(scanner.lastContentType).To(Equal("image/heic"))
			})
		})

		When("no file is sent", func() {
			BeforeEach(func() {
				file = nil
			})

			It("should return bad request", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No file"))
			})
		})

		When("the analysis fails", func() {
			BeforeEach(func() {
				scanner.err = errors.New("no products found")
			})

			It("should return unprocessable entity", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).NotTo(BeEmpty())
			})
		})

		When("the history cannot be saved", func() {
			BeforeEach(func() {
				kv.setErr = errors.New("disk full")
			})

			It("should return the scan with a warning", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var scan map[string]any
				decode(resp, &scan)
				Expect(scan["id"]).To(Equal("scan-1"))
				Expect(scan["totalScore"]).To(Equal("C"))
				Expect(scan["warning"]).NotTo(BeEmpty())
			})
		})
	})

	Describe("handleGetScan", func() {
		BeforeEach(func() {
			seed(1)
		})

		It("should return the scan", func() {
			resp := do(http.MethodGet, "/api/scans/scan-1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scan map[string]any
			decode(resp, &scan)
			Expect(scan["id"]).To(Equal("scan-1"))
		})

		It("should return not found for unknown scans", func() {
			resp := do(http.MethodGet, "/api/scans/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleClearHistory", func() {
		BeforeEach(func() {
			seed(2)
		})

		It("should refuse without confirmation", func() {
			resp := do(http.MethodDelete, "/api/scans", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(service.ListScans()).To(HaveLen(2))
		})

		It("should clear the history when confirmed", func() {
			resp := do(http.MethodDelete, "/api/scans?confirm=true", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(service.ListScans()).To(BeEmpty())
		})
	})

	Describe("handleDeleteScan", func() {
		BeforeEach(func() {
			seed(2)
		})

		It("should delete the scan", func() {
			resp := do(http.MethodDelete, "/api/scans/scan-1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(ids(service.ListScans())).To(Equal([]string{"scan-2"}))
		})

		It("should return not found for unknown scans", func() {
			resp := do(http.MethodDelete, "/api/scans/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleCycleScore", func() {
		var productID string

		BeforeEach(func() {
			seed(1)
			scan, err := service.GetScan("scan-1")
			Expect(err).NotTo(HaveOccurred())
			productID = scan.Products()[0].ID
		})

		It("should return the rescored scan", func() {
			resp := do(http.MethodPost, "/api/scans/scan-1/products/"+productID+"/cycle", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scan map[string]any
			decode(resp, &scan)
			product := scan["products"].([]any)[0].(map[string]any)
			Expect(product["nutriScore"]).To(Equal("B"))
			// B and E average 1.5
			Expect(scan["totalScore"]).To(Equal("C"))
		})

		It("should return not found for unknown products", func() {
			resp := do(http.MethodPost, "/api/scans/scan-1/products/missing/cycle", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetMacros", func() {
		It("should return the macro totals and shares", func() {
			seed(1)
			resp := do(http.MethodGet, "/api/scans/scan-1/macros", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var macros Macros
			decode(resp, &macros)
			Expect(macros.Totals.Fats).To(BeNumerically("~", 34.2, 0.01))
			Expect(macros.Shares.Proteins + macros.Shares.Carbs + macros.Shares.Fats).To(BeNumerically("~", 100, 0.2))
		})

		It("should return no content when there is no macro data", func() {
			scanner.analysis.Products = nil
			seed(1)
			resp := do(http.MethodGet, "/api/scans/scan-1/macros", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("should return not found for unknown scans", func() {
			resp := do(http.MethodGet, "/api/scans/missing/macros", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetScanImage", func() {
		It("should return the receipt image", func() {
			seed(1)
			resp := do(http.MethodGet, "/api/scans/scan-1/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
		})

		It("should return not found for unknown scans", func() {
			resp := do(http.MethodGet, "/api/scans/missing/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleTrend", func() {
		It("should return the series oldest first", func() {
			seed(2)
			resp := do(http.MethodGet, "/api/trend", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var points []map[string]any
			decode(resp, &points)
			Expect(points).To(HaveLen(2))
			Expect(points[0]["scanId"]).To(Equal("scan-1"))
			Expect(points[0]["points"]).To(BeNumerically("==", 2))
		})
	})

	Describe("handleExport", func() {
		It("should download an XLSX workbook", func() {
			seed(1)
			resp := do(http.MethodGet, "/api/export.xlsx", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("ticketmiam-history.xlsx"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("events", func() {
		When("an events handler is configured", func() {
			BeforeEach(func() {
				events = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTeapot)
				})
			})

			It("should route /api/events to it", func() {
				resp := do(http.MethodGet, "/api/events", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusTeapot))
			})
		})

		When("no events handler is configured", func() {
			It("should fall through to the index", func() {
				resp := do(http.MethodGet, "/api/events", nil, "")
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			})
		})
	})

	Describe("Handler", func() {
		It("should answer preflight requests with CORS headers", func() {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodOptions, "/api/scans", nil)
			server.Handler().ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})
})
