package nutrition

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func ptr(v float64) *float64 { return &v }

var _ = Describe("NewProduct", func() {
	var (
		input   ProductInput
		product Product
		fixed   []string
	)

	JustBeforeEach(func() {
		product, fixed = NewProduct(input)
	})

	When("every field is present and valid", func() {
		BeforeEach(func() {
			input = ProductInput{
				Name:             "Yaourt nature",
				RawName:          "YAOURT NAT X4",
				Quantity:         ptr(4),
				NutriScore:       "a",
				IsUltraProcessed: false,
				Calories:         ptr(61),
				Proteins:         ptr(4.2),
				Carbs:            ptr(4.8),
				Fats:             ptr(3.1),
				Sugar:            ptr(4.8),
				Salt:             ptr(0.1),
				SaturatedFat:     ptr(2),
			}
		})

		It("generates an id", func() {
			Expect(product.ID).NotTo(BeEmpty())
		})

		It("keeps the values", func() {
			Expect(product.Name).To(Equal("Yaourt nature"))
			Expect(product.RawName).To(Equal("YAOURT NAT X4"))
			Expect(product.Quantity).To(Equal(4.0))
			Expect(product.NutriScore).To(Equal(ScoreA))
			Expect(product.Calories).To(Equal(61.0))
			Expect(product.SaturatedFat).To(Equal(2.0))
		})

		It("reports nothing corrected", func() {
			Expect(fixed).To(BeEmpty())
		})
	})

	When("optional numbers are absent", func() {
		BeforeEach(func() {
			input = ProductInput{Name: "Pain", NutriScore: "B"}
		})

		It("defaults them to zero", func() {
			Expect(product.Calories).To(BeZero())
			Expect(product.Sugar).To(BeZero())
			Expect(product.Salt).To(BeZero())
			Expect(product.SaturatedFat).To(BeZero())
			Expect(product.Proteins).To(BeZero())
			Expect(product.Carbs).To(BeZero())
			Expect(product.Fats).To(BeZero())
		})

		It("defaults the quantity to one", func() {
			Expect(product.Quantity).To(Equal(1.0))
		})

		It("does not report absent values as corrections", func() {
			Expect(fixed).To(BeEmpty())
		})
	})

	When("numbers are invalid", func() {
		BeforeEach(func() {
			input = ProductInput{
				Name:     "Chips",
				Calories: ptr(math.NaN()),
				Sugar:    ptr(-1),
				Salt:     ptr(math.Inf(1)),
				Quantity: ptr(-2),
			}
		})

		It("replaces them with zero", func() {
			Expect(product.Calories).To(BeZero())
			Expect(product.Sugar).To(BeZero())
			Expect(product.Salt).To(BeZero())
		})

		It("keeps a quantity of one", func() {
			Expect(product.Quantity).To(Equal(1.0))
		})

		It("reports the corrected fields", func() {
			Expect(fixed).To(ConsistOf("calories", "sugar", "salt", "quantity"))
		})
	})

	When("the grade is not recognized", func() {
		BeforeEach(func() {
			input = ProductInput{Name: "Soda", NutriScore: "F"}
		})

		It("uses C", func() {
			Expect(product.NutriScore).To(Equal(ScoreC))
		})

		It("reports the grade", func() {
			Expect(fixed).To(ConsistOf("nutriScore"))
		})
	})

	When("only the receipt text is known", func() {
		BeforeEach(func() {
			input = ProductInput{RawName: "BISC CHOCO"}
		})

		It("uses it as the name", func() {
			Expect(product.Name).To(Equal("BISC CHOCO"))
		})
	})

	When("no name is known", func() {
		BeforeEach(func() {
			input = ProductInput{}
		})

		It("uses the placeholder", func() {
			Expect(product.Name).To(Equal(DefaultProductName))
		})
	})
})

var _ = Describe("Round1", func() {
	DescribeTable("rounds half away from zero",
		func(in, out float64) {
			Expect(Round1(in)).To(Equal(out))
		},
		Entry("0.25", 0.25, 0.3),
		Entry("0.24", 0.24, 0.2),
		Entry("1.75", 1.75, 1.8),
		Entry("2", 2.0, 2.0),
	)
})

var _ = Describe("Product.Sanitize", func() {
	It("reports a quantity it had to correct", func() {
		p := Product{ID: "p", Name: "Lait", NutriScore: ScoreB, Quantity: -1}
		Expect(p.Sanitize()).To(ConsistOf("quantity"))
		Expect(p.Quantity).To(Equal(1.0))
	})

	It("reads a lowercase grade without reporting it", func() {
		p := Product{ID: "p", Name: "Lait", NutriScore: "b", Quantity: 2}
		Expect(p.Sanitize()).To(BeEmpty())
		Expect(p.NutriScore).To(Equal(ScoreB))
	})

	It("leaves a valid product unchanged", func() {
		p := graded("p", ScoreD)
		before := p
		Expect(p.Sanitize()).To(BeEmpty())
		Expect(p).To(Equal(before))
	})
})
