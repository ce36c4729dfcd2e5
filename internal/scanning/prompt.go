package scanning

// receiptScanPrompt is the shared prompt used by all LLM providers for analysing grocery receipts
const receiptScanPrompt = `You are analysing a grocery receipt (French supermarkets such as Intermarché, Carrefour, Leclerc, Lidl). Read every line of the image with surgical precision.

1. **Store**: identify the store brand, usually printed at the top.
2. **Products**: list every food product. Receipt lines are abbreviated (e.g. "PAT. YAOURT NAT X4"); give a clear, readable product name and keep the original line text.
3. **Nutrition**: for each product use your nutrition knowledge to estimate, per 100g:
   - the Nutri-Score (A, B, C, D or E)
   - whether it is ultra-processed (NOVA group 4)
   - calories (kcal), sugar, salt, saturated fat, proteins, carbohydrates and fats (grams)
4. Be pessimistic about the Nutri-Score when in doubt.

Skip non-food lines (bags, household products, totals, taxes, payment, loyalty discounts).

Return ONLY valid JSON in this exact format:
{
  "storeName": "Store name",
  "products": [
    {
      "name": "Readable product name",
      "rawName": "LINE AS PRINTED",
      "quantity": 1,
      "nutriScore": "A",
      "isUltraProcessed": false,
      "calories": 0,
      "sugar": 0,
      "salt": 0,
      "saturatedFat": 0,
      "proteins": 0,
      "carbs": 0,
      "fats": 0
    }
  ]
}

Important:
- Numbers must be numbers (not strings), using a dot as decimal separator
- If you cannot estimate a value, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// analysisSchema is the JSON Schema a model response must satisfy before it is
// decoded. Values are checked loosely; numbers are coerced later.
const analysisSchema = `{
  "type": "object",
  "required": ["products"],
  "properties": {
    "storeName": {"type": ["string", "null"]},
    "products": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "rawName": {"type": ["string", "null"]},
          "nutriScore": {"type": ["string", "null"]},
          "isUltraProcessed": {"type": ["boolean", "string", "number", "null"]},
          "quantity": {"type": ["number", "string", "null"]},
          "calories": {"type": ["number", "string", "null"]},
          "sugar": {"type": ["number", "string", "null"]},
          "salt": {"type": ["number", "string", "null"]},
          "saturatedFat": {"type": ["number", "string", "null"]},
          "proteins": {"type": ["number", "string", "null"]},
          "carbs": {"type": ["number", "string", "null"]},
          "fats": {"type": ["number", "string", "null"]}
        }
      }
    }
  }
}`
