package scanning

import (
	"context"
	"errors"
	"fmt"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

type stubRunner struct {
	stdout  string
	err     error
	name    string
	args    []string
	content []byte
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.name = name
	r.args = args
	if len(args) > 0 {
		r.content, _ = os.ReadFile(args[0])
	}
	if r.err != nil {
		return nil, []byte("tesseract crashed"), r.err
	}
	return []byte(r.stdout), nil, nil
}

type fakeSearcher struct {
	queries []string
	failOn  string
	missOn  string
}

func (f *fakeSearcher) SearchProduct(ctx context.Context, query string) (*nutrition.ProductInput, error) {
	f.queries = append(f.queries, query)
	switch query {
	case f.failOn:
		return nil, errors.New("lookup failed")
	case f.missOn:
		return nil, nil
	}
	return &nutrition.ProductInput{Name: query, NutriScore: "B"}, nil
}

var _ = Describe("cleanLine", func() {
	DescribeTable("should keep only the product words",
		func(line, expected string) {
			Expect(cleanLine(line)).To(Equal(expected))
		},
		Entry("price", "NUTELLA 750G 4,99", "NUTELLA 750G"),
		Entry("euro sign and multiplier", "YAOURT NATURE x4 2.10€", "YAOURT NATURE"),
		Entry("barcode", "3017620422003 NUTELLA", "NUTELLA"),
		Entry("bare numbers", "2 BAGUETTE 1", "BAGUETTE"),
		Entry("stars", "*** LAIT DEMI ECREME ***", "LAIT DEMI ECREME"),
	)
})

var _ = Describe("receiptQueries", func() {
	It("should drop short lines and stopwords", func() {
		lines := []string{"TOTAL 12,50", "TVA 5.5%", "PAIN", "CARTE BANCAIRE", "BEURRE DOUX", "Merci de votre visite"}
		Expect(receiptQueries(lines)).To(Equal([]string{"BEURRE DOUX"}))
	})

	It("should deduplicate lines", func() {
		lines := []string{"BEURRE DOUX 2,10", "BEURRE DOUX 2,10", "CONFITURE FRAISE"}
		Expect(receiptQueries(lines)).To(Equal([]string{"BEURRE DOUX", "CONFITURE FRAISE"}))
	})

	It("should return at most ten queries", func() {
		var lines []string
		for i := 0; i < 15; i++ {
			lines = append(lines, fmt.Sprintf("PRODUIT %c", 'A'+i))
		}
		queries := receiptQueries(lines)
		Expect(queries).To(HaveLen(10))
		Expect(queries[0]).To(Equal("PRODUIT A"))
		Expect(queries[9]).To(Equal("PRODUIT J"))
	})
})

var _ = Describe("Local", func() {
	var (
		runner   *stubRunner
		searcher *fakeSearcher
		scanner  *Local
		analysis *Analysis
		err      error
	)

	BeforeEach(func() {
		runner = &stubRunner{stdout: "INTERMARCHE\n\nNUTELLA 750G 4,99\nJAMBON BLANC 2,35\nPOMMES GALA 1,20\nTOTAL 8,54\n"}
		searcher = &fakeSearcher{}
	})

	JustBeforeEach(func() {
		scanner, err = NewLocalWithRunner(LocalConfig{TesseractPath: "/usr/bin/tesseract"}, searcher, runner)
		Expect(err).NotTo(HaveOccurred())
		analysis, err = scanner.ScanReceipt([]byte("fake png bytes"), "image/png")
	})

	It("should run tesseract on the image in French", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(runner.name).To(Equal("/usr/bin/tesseract"))
		Expect(runner.args[1:]).To(Equal([]string{"stdout", "-l", "fra"}))
		Expect(runner.content).To(Equal([]byte("fake png bytes")))
	})

	It("should remove the temporary image", func() {
		_, statErr := os.Stat(runner.args[0])
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("should use the first line as the store name", func() {
		Expect(analysis.StoreName).To(Equal("INTERMARCHE"))
	})

	It("should look up every product line", func() {
		Expect(searcher.queries).To(Equal([]string{"INTERMARCHE", "NUTELLA 750G", "JAMBON BLANC", "POMMES GALA"}))
		Expect(analysis.Products).To(HaveLen(4))
	})

	When("a lookup fails or finds nothing", func() {
		BeforeEach(func() {
			searcher.failOn = "NUTELLA 750G"
			searcher.missOn = "JAMBON BLANC"
		})

		It("should skip that line", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Products).To(HaveLen(2))
			Expect(analysis.Products[1].Name).To(Equal("POMMES GALA"))
		})
	})

	When("the receipt has no text", func() {
		BeforeEach(func() {
			runner.stdout = "\n  \n"
		})

		It("should use the unknown store name", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.StoreName).To(Equal(UnknownStoreName))
			Expect(analysis.Products).To(BeEmpty())
		})
	})

	When("tesseract fails", func() {
		BeforeEach(func() {
			runner.err = errors.New("exit status 1")
		})

		It("should return an analysis error", func() {
			Expect(errors.Is(err, ErrAnalysis)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("tesseract crashed"))
		})
	})
})

var _ = Describe("NewLocal", func() {
	It("should require a product searcher", func() {
		_, err := NewLocal(LocalConfig{}, nil)
		Expect(err).To(HaveOccurred())
	})
})
