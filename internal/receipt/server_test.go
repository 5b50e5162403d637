package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/tabsplit/internal/parser"
)

type uploadBody struct {
	Receipt     *Receipt            `json:"receipt"`
	Diagnostics *parser.Diagnostics `json:"diagnostics"`
	Error       string              `json:"error"`
}

func multipartUpload(filename string, data []byte) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	part, _ := writer.CreateFormFile("file", filename)
	part.Write(data)
	writer.Close()
	return &b, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, recognizer, storage, parser.New(parser.Strict()),
			&mockIDGenerator{}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	do := func(method, path, contentType string, body io.Reader) *http.Response {
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

	doJSON := func(method, path, body string) *http.Response {
		return do(method, path, "application/json", strings.NewReader(body))
	}

	decode := func(resp *http.Response, v any) {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = newMockRecognizer()
		auth = BasicAuth{}

		pizza := sharedPizza()
		pizza.Filename = "r1_pizza.jpg"
		pizza.ContentType = "image/jpeg"
		db.receipts["r1"] = pizza
		storage.files["r1_pizza.jpg"] = []byte("jpeg bytes")

		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/receipts", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(Equal(`Basic realm="Tabsplit"`))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject wrong credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the configured credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodOptions, "/api/receipts/r1/items/i1", nil)
			server.corsMiddleware(server.mux).ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("handleListReceipts", func() {
		It("should return all receipts as JSON", func() {
			resp := do("GET", "/api/receipts", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var receipts []*Receipt
			decode(resp, &receipts)
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].Items[0].UnitPrice.Equal(dec("20"))).To(BeTrue())
		})

		When("no receipts exist", func() {
			BeforeEach(func() {
				delete(db.receipts, "r1")
			})

			It("should return an empty array", func() {
				resp := do("GET", "/api/receipts", "", nil)
				body, _ := io.ReadAll(resp.Body)
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("disk on fire")
			})

			It("should return Internal Server Error", func() {
				resp := do("GET", "/api/receipts", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		var (
			filename string
			data     []byte
			resp     *http.Response
			body     uploadBody
		)

		BeforeEach(func() {
			filename = "dinner.png"
			data = photo()
			body = uploadBody{}
		})

		JustBeforeEach(func() {
			b, contentType := multipartUpload(filename, data)
			resp = do("POST", "/api/receipts", contentType, b)
			decode(resp, &body)
		})

		When("upload succeeds", func() {
			It("should return the processed receipt", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(body.Receipt.ID).To(Equal("id-1"))
				Expect(body.Receipt.Items).To(HaveLen(2))
				Expect(body.Receipt.ContentType).To(Equal("image/png"))
			})

			It("should store the receipt", func() {
				Expect(db.receipts).To(HaveKey("id-1"))
			})
		})

		When("the file is not an image", func() {
			BeforeEach(func() {
				data = []byte("fake image data")
			})

			It("should return Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(ContainSubstring("invalid image"))
			})
		})

		When("the recognizer fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("engine crashed")
			})

			It("should return Bad Gateway", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(body.Error).To(ContainSubstring("processing failed"))
			})
		})

		When("nothing is detected", func() {
			BeforeEach(func() {
				recognizer.observations = []parser.Observation{line("Thank you", 400)}
			})

			It("should return Unprocessable Entity", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body.Error).To(ContainSubstring("clearer photo"))
				Expect(db.receipts).NotTo(HaveKey("id-1"))
			})
		})
	})

	Describe("handleUploadReceipt with a bad form", func() {
		It("should reject a missing file", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			writer.Close()

			resp := do("POST", "/api/receipts", writer.FormDataContentType(), &b)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body uploadBody
			decode(resp, &body)
			Expect(body.Error).To(ContainSubstring("file"))
		})

		It("should reject an invalid multipart body", func() {
			resp := do("POST", "/api/receipts", "multipart/form-data", bytes.NewBufferString("invalid"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body uploadBody
			decode(resp, &body)
			Expect(body.Error).To(Equal("Error parsing form"))
		})
	})

	Describe("handleParse", func() {
		It("should parse observations without storing them", func() {
			resp := doJSON("POST", "/api/receipts/parse", `{
				"observations": [
					{"text": "Burger 12.50", "confidence": 0.95, "box": {"x": 100, "y": 400, "width": 700, "height": 30}},
					{"text": "Fries 4.00", "confidence": 0.95, "box": {"x": 100, "y": 450, "width": 700, "height": 30}}
				],
				"size": {"width": 1000, "height": 1000}
			}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result parser.Result
			decode(resp, &result)
			Expect(result.Items).To(HaveLen(2))
			Expect(result.Subtotal.Decimal.Equal(dec("16.50"))).To(BeTrue())
			Expect(db.receipts).To(HaveLen(1))
		})

		It("should reject an empty observation list", func() {
			resp := doJSON("POST", "/api/receipts/parse", `{"observations": [], "size": {"width": 1000, "height": 1000}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a missing image size", func() {
			resp := doJSON("POST", "/api/receipts/parse", `{"observations": [{"text": "Burger 12.50", "confidence": 0.9}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject invalid JSON", func() {
			resp := doJSON("POST", "/api/receipts/parse", `{`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetReceipt", func() {
		It("should return the receipt", func() {
			resp := do("GET", "/api/receipts/r1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.People).To(HaveLen(2))
		})

		It("should return Not Found for an unknown receipt", func() {
			resp := do("GET", "/api/receipts/nope", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetReceiptFile", func() {
		It("should return the stored file with its content type", func() {
			resp := do("GET", "/api/receipts/r1/file", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("jpeg bytes"))
		})

		When("the receipt has no file", func() {
			BeforeEach(func() {
				db.receipts["r1"].Filename = ""
			})

			It("should return Not Found", func() {
				resp := do("GET", "/api/receipts/r1/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleDeleteReceipt", func() {
		It("should delete the receipt and its file", func() {
			resp := do("DELETE", "/api/receipts/r1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("should return Not Found for an unknown receipt", func() {
			resp := do("DELETE", "/api/receipts/nope", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("people", func() {
		It("should add a person", func() {
			resp := doJSON("POST", "/api/receipts/r1/people", `{"name": "Carol"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.People).To(ContainElement(Person{ID: "id-1", Name: "Carol"}))
		})

		It("should reject a blank name", func() {
			resp := doJSON("POST", "/api/receipts/r1/people", `{"name": ""}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should remove a person", func() {
			resp := do("DELETE", "/api/receipts/r1/people/p2", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["r1"].People).To(HaveLen(1))
		})

		It("should return Not Found for an unknown person", func() {
			resp := do("DELETE", "/api/receipts/r1/people/p9", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("items", func() {
		It("should add an item with a default quantity of one", func() {
			resp := doJSON("POST", "/api/receipts/r1/items", `{"name": "Cola", "unit_price": "3.50"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Items).To(HaveLen(2))
			Expect(receipt.Items[1].Quantity).To(Equal(1))
			Expect(receipt.Subtotal.Equal(dec("43.50"))).To(BeTrue())
		})

		It("should reject an item without a price", func() {
			resp := doJSON("POST", "/api/receipts/r1/items", `{"name": "Cola"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should update an item's quantity", func() {
			resp := doJSON("PATCH", "/api/receipts/r1/items/i1", `{"quantity": 3}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Items[0].UnitAssignments).To(HaveLen(3))
			Expect(receipt.Total.Equal(dec("60"))).To(BeTrue())
		})

		It("should delete an item", func() {
			resp := do("DELETE", "/api/receipts/r1/items/i1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["r1"].Items).To(BeEmpty())
		})

		It("should return Not Found for an unknown item", func() {
			resp := doJSON("PATCH", "/api/receipts/r1/items/i9", `{"quantity": 3}`)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("assignments", func() {
		It("should toggle a person on a unit", func() {
			resp := doJSON("POST", "/api/receipts/r1/items/i1/units/1/toggle", `{"person_id": "p2"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["r1"].Items[0].UnitAssignments[1]).To(Equal([]string{"p2"}))
		})

		It("should reject a unit that is not a number", func() {
			resp := doJSON("POST", "/api/receipts/r1/items/i1/units/first/toggle", `{"person_id": "p2"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a unit past the quantity", func() {
			resp := doJSON("POST", "/api/receipts/r1/items/i1/units/5/toggle", `{"person_id": "p2"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should assign people to every unit", func() {
			resp := doJSON("PUT", "/api/receipts/r1/items/i1/assignees", `{"person_ids": ["p1", "p2"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["r1"].Items[0].UnitAssignments).To(Equal([][]string{{"p1", "p2"}, {"p1", "p2"}}))
		})
	})

	Describe("handleUpdateRates", func() {
		It("should set the rates and recompute the total", func() {
			resp := doJSON("PUT", "/api/receipts/r1/rates", `{"vat_percentage": "14", "service_percentage": 12.5}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Total.Equal(dec("50.60"))).To(BeTrue())
		})

		It("should reject a rate above 100", func() {
			resp := doJSON("PUT", "/api/receipts/r1/rates", `{"vat_percentage": 150, "service_percentage": 0}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleSplits", func() {
		BeforeEach(func() {
			db.receipts["r1"].Items[0].UnitAssignments = [][]string{{"p1", "p2"}, {"p2"}}
		})

		It("should return each person's share", func() {
			resp := do("GET", "/api/receipts/r1/splits", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var splits Splits
			decode(resp, &splits)
			Expect(splits.Complete).To(BeTrue())
			Expect(splits.Splits).To(HaveLen(2))
			Expect(splits.Splits[0].Person.Name).To(Equal("Alice"))
			Expect(splits.Splits[0].FinalAmount.Equal(dec("10"))).To(BeTrue())
			Expect(splits.Splits[1].FinalAmount.Equal(dec("30"))).To(BeTrue())
		})
	})

	Describe("exports", func() {
		It("should download a CSV", func() {
			resp := do("GET", "/api/export.csv", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(HavePrefix("Date,Total,Subtotal,VAT %,Service %,Items Count,People Count\n"))
		})

		It("should download a spreadsheet", func() {
			resp := do("GET", "/api/export.xlsx", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts.xlsx"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body[:2])).To(Equal("PK"))
		})
	})
})
